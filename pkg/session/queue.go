package session

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// OpKind identifies the concrete mutation an op carries. Set by the
// enqueueing side, which has the authoritative intent; the apply loop
// dispatches on it without probing payloads.
type OpKind string

const (
	OpIngest     OpKind = "message.ingest"
	OpStatus     OpKind = "message.status"
	OpRecall     OpKind = "message.recall"
	OpDelete     OpKind = "message.delete"
	OpAck        OpKind = "message.ack"
	OpPatchMedia OpKind = "message.patch_media"
	OpPin        OpKind = "message.pin"
	OpLocalSend  OpKind = "message.local_send"

	// opFlush is an internal barrier op used by Session.Flush.
	opFlush OpKind = "session.flush"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("session queue full")

// ErrQueueClosed is returned for enqueues after the queue has closed.
var ErrQueueClosed = errors.New("session queue closed")

const defaultQueueCapacity = 4096

// Op is one mutation destined for a session's apply loop. Payload holds
// the JSON body for the op and may be backed by a pooled buffer.
type Op struct {
	Kind OpKind
	// Source is the originating channel: "rest", "realtime" or "local".
	Source  string
	Payload []byte
	// EnqSeq is a monotonic sequence assigned on accept, for
	// deterministic ordering in logs.
	EnqSeq uint64
}

// item wraps an Op and owns its pooled buffer. The apply loop calls
// done() exactly once per item.
type item struct {
	op   *Op
	buf  *bytebufferpool.ByteBuffer
	once sync.Once
}

func (it *item) done() {
	it.once.Do(func() {
		if it.buf != nil {
			bytebufferpool.Put(it.buf)
			it.buf = nil
		}
		if it.op != nil {
			it.op.Payload = nil
			opPool.Put(it.op)
			it.op = nil
		}
	})
}

var opPool = sync.Pool{New: func() any { return &Op{} }}

// queue is a bounded single-consumer op queue. Producers are the REST
// backfill, the realtime handler and local sends; the consumer is the
// session apply loop, which is the only goroutine mutating the store.
type queue struct {
	mu     sync.RWMutex
	ch     chan *item
	closed bool
	seq    uint64
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &queue{ch: make(chan *item, capacity)}
}

// tryEnqueue enqueues without blocking; payload bytes are copied into a
// pooled buffer so the caller may reuse its slice.
func (q *queue) tryEnqueue(op Op) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	newOp := opPool.Get().(*Op)
	*newOp = op
	newOp.EnqSeq = atomic.AddUint64(&q.seq, 1)

	var bb *bytebufferpool.ByteBuffer
	if len(op.Payload) > 0 {
		bb = bytebufferpool.Get()
		bb.B = append(bb.B[:0], op.Payload...)
		newOp.Payload = bb.B[:len(op.Payload)]
	}
	it := &item{op: newOp, buf: bb}

	select {
	case q.ch <- it:
		return nil
	default:
		it.done()
		return ErrQueueFull
	}
}

// close stops accepting ops and lets the consumer drain what remains.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// run consumes items until the queue closes, invoking handler for each.
func (q *queue) run(handler func(*Op)) {
	for it := range q.ch {
		handler(it.op)
		it.done()
	}
}
