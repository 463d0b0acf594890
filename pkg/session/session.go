// Package session ties the sync core together for one open conversation:
// cold-start restore from the cache, REST backfill, realtime
// subscription, optimistic local sends, and an optional scheduled
// refetch. All store mutations flow through a single apply loop, so the
// arbitrary interleaving of the two network channels and local sends can
// never corrupt the conversation store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/cache"
	"chatsync/pkg/convstore"
	"chatsync/pkg/dedup"
	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/normalize"
	"chatsync/pkg/realtime"
	"chatsync/pkg/reconcile"
	"chatsync/pkg/telemetry"
	"chatsync/pkg/utils"
)

// Transport is the realtime collaborator surface the session needs:
// explicit per-channel open/close with guaranteed listener teardown.
// *realtime.Manager implements it.
type Transport interface {
	Open(channel string, h realtime.Handler) error
	Close(channel string)
}

// Config assembles a session's collaborators.
type Config struct {
	ConvKey string
	// SelfID is the current user's id; local sends use it as sender.
	SelfID string
	Store  *convstore.Store
	Ledger *dedup.Ledger
	Norm   *normalize.Normalizer
	Source normalize.MessageSource
	// Transport may be nil for offline/test use.
	Transport Transport
	// RefetchCron schedules a periodic full refetch (empty disables it).
	// Refetch is the recovery path for status events that arrived before
	// their message and were dropped.
	RefetchCron string
	// QueueCapacity bounds the pending-op queue (0 = default).
	QueueCapacity int
}

type mediaPatch struct {
	MessageID string   `json:"messageId"`
	URLs      []string `json:"urls"`
	FileName  string   `json:"fileName,omitempty"`
	MimeType  string   `json:"mimeType,omitempty"`
}

type pinOp struct {
	MessageID string `json:"messageId"`
	Pinned    bool   `json:"pinned"`
}

// Session synchronizes one conversation. Create with Open; release with
// Close, which tears down the realtime listener before stopping the loop.
type Session struct {
	convKey string
	selfID  string

	store     *convstore.Store
	ledger    *dedup.Ledger
	norm      *normalize.Normalizer
	rec       *reconcile.Reconciler
	source    normalize.MessageSource
	transport Transport
	cron      string

	q      *queue
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loopWG sync.WaitGroup
	// bfWG tracks backfill goroutines spawned by the apply loop itself;
	// separate from wg so Close can wait for producers before the loop
	// stops, then for these after.
	bfWG sync.WaitGroup

	flushSeq  uint64
	flushes   sync.Map
	closeOnce sync.Once
}

type flushMarker struct {
	ID uint64 `json:"id"`
}

// Open restores the conversation from the cache, starts the apply loop,
// kicks off a REST backfill and subscribes to the realtime channel.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.ConvKey == "" {
		return nil, errors.New("session: empty conversation key")
	}
	if _, _, err := models.SplitKey(cfg.ConvKey); err != nil {
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		convKey:   cfg.ConvKey,
		selfID:    cfg.SelfID,
		store:     cfg.Store,
		ledger:    cfg.Ledger,
		norm:      cfg.Norm,
		rec:       reconcile.New(cfg.Store),
		source:    cfg.Source,
		transport: cfg.Transport,
		cron:      cfg.RefetchCron,
		q:         newQueue(cfg.QueueCapacity),
		ctx:       sctx,
		cancel:    cancel,
	}

	// cold start: restored entries are already applied state
	restored := cache.Restore(cfg.ConvKey)
	s.store.Load(cfg.ConvKey, restored)
	for _, m := range restored {
		s.ledger.MarkSeen(cfg.ConvKey, m.ID)
	}
	if len(restored) > 0 {
		logger.Info("session_restored", "conv", cfg.ConvKey, "messages", len(restored))
	}
	if _, ok := cache.GetMeta(cfg.ConvKey); !ok {
		cache.SaveMeta(models.ConversationMeta{Key: cfg.ConvKey})
	}

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		s.q.run(s.apply)
	}()

	if s.source != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.backfill()
		}()
	}

	if s.transport != nil {
		if err := s.transport.Open(cfg.ConvKey, s.handleEvent); err != nil {
			// transport failure is transient; the store still works from
			// cache + REST
			logger.Warn("session_subscribe_failed", "conv", cfg.ConvKey, "error", err)
		}
	}

	if s.cron != "" {
		if !gronx.IsValid(s.cron) {
			s.Close()
			return nil, errors.New("session: invalid refetch cron: " + s.cron)
		}
		// refetch needs somewhere to fetch from; a realtime-only session
		// runs without it
		if s.source == nil {
			logger.Warn("refetch_disabled_no_source", "conv", cfg.ConvKey)
		} else {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.runRefetch()
			}()
		}
	}
	return s, nil
}

// Close unsubscribes the realtime channel, drains the op queue and drops
// per-session state. The cache keeps the conversation snapshot.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.transport != nil {
			s.transport.Close(s.convKey)
		}
		s.cancel()
		s.wg.Wait()
		s.q.close()
		s.loopWG.Wait()
		s.bfWG.Wait()
		s.ledger.Forget(s.convKey)
		s.store.Drop(s.convKey)
		logger.Info("session_closed", "conv", s.convKey)
	})
}

// ConvKey returns the conversation key this session owns.
func (s *Session) ConvKey() string { return s.convKey }

// SetMeta stores the conversation's display info (peer or group title and
// avatar) in the durable cache.
func (s *Session) SetMeta(title, avatar string) {
	cache.SaveMeta(models.ConversationMeta{Key: s.convKey, Title: title, Avatar: avatar})
}

// Messages returns the current reconciled view.
func (s *Session) Messages() []models.Message {
	return s.store.Messages(s.convKey)
}

// Send optimistically inserts a locally composed message and returns its
// temp id. The server ack (messageAck event) replaces the temp id with
// the server-issued one in place.
func (s *Session) Send(typ models.Type, content string, mediaURLs ...string) (string, error) {
	msg := models.Message{
		ID:        utils.GenTempID(),
		ConvKey:   s.convKey,
		SenderID:  s.selfID,
		Type:      typ,
		Status:    models.StatusSending,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if typ == models.TypeText {
		msg.Content = content
	} else {
		msg.MediaURLs = mediaURLs
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	if err := s.q.tryEnqueue(Op{Kind: OpLocalSend, Source: "local", Payload: payload}); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Retry flips a failed local message back to sending. Only explicit user
// action retries; there is no automatic resend.
func (s *Session) Retry(tempID string) bool {
	if !utils.IsTempID(tempID) {
		return false
	}
	payload, _ := json.Marshal(models.StatusEvent{MessageID: tempID, Status: string(models.StatusSending)})
	return s.q.tryEnqueue(Op{Kind: OpStatus, Source: "local", Payload: payload}) == nil
}

// Pin toggles the pinned flag on a message.
func (s *Session) Pin(messageID string, pinned bool) error {
	payload, err := json.Marshal(pinOp{MessageID: messageID, Pinned: pinned})
	if err != nil {
		return err
	}
	return s.q.tryEnqueue(Op{Kind: OpPin, Source: "local", Payload: payload})
}

// EnqueueRaw feeds one raw message into the pipeline; source names the
// originating channel for telemetry.
func (s *Session) EnqueueRaw(source string, raw models.RawMessage) error {
	payload, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := s.q.tryEnqueue(Op{Kind: OpIngest, Source: source, Payload: payload}); err != nil {
		if errors.Is(err, ErrQueueFull) {
			telemetry.QueueDropped.Inc()
		}
		return err
	}
	return nil
}

// Flush blocks until every op enqueued before the call has been applied.
// Intended for tests and shutdown paths.
func (s *Session) Flush() {
	id := atomic.AddUint64(&s.flushSeq, 1)
	done := make(chan struct{})
	s.flushes.Store(id, done)
	payload, _ := json.Marshal(flushMarker{ID: id})
	if err := s.q.tryEnqueue(Op{Kind: opFlush, Source: "local", Payload: payload}); err != nil {
		s.flushes.Delete(id)
		return
	}
	<-done
}

// handleEvent runs on the transport read loop; it only enqueues.
func (s *Session) handleEvent(ev realtime.Event) {
	var kind OpKind
	switch ev.Name {
	case models.EventNewMessage:
		kind = OpIngest
	case models.EventMessageStatus:
		kind = OpStatus
	case models.EventMessageRecall:
		kind = OpRecall
	case models.EventMessageDeleted:
		kind = OpDelete
	case models.EventMessageAck:
		kind = OpAck
	default:
		logger.Debug("event_ignored", "conv", s.convKey, "event", ev.Name)
		return
	}
	if err := s.q.tryEnqueue(Op{Kind: kind, Source: "realtime", Payload: ev.Data}); err != nil {
		if errors.Is(err, ErrQueueFull) {
			telemetry.QueueDropped.Inc()
		}
		logger.Warn("event_enqueue_failed", "conv", s.convKey, "event", ev.Name, "error", err)
	}
}

// apply is the single writer for this conversation's store state.
func (s *Session) apply(op *Op) {
	switch op.Kind {
	case OpIngest:
		s.applyIngest(op)
	case OpStatus:
		var ev models.StatusEvent
		if json.Unmarshal(op.Payload, &ev) == nil {
			// local flips on an unconfirmed send (retry, send failure)
			// bypass the reconciler, which only accepts server statuses
			if op.Source == "local" && utils.IsTempID(ev.MessageID) {
				s.store.ApplyStatus(s.convKey, ev.MessageID, models.Status(ev.Status))
			} else {
				s.rec.ApplyStatus(s.convKey, ev)
			}
		}
	case OpRecall:
		var ev models.RecallEvent
		if json.Unmarshal(op.Payload, &ev) == nil {
			s.rec.ApplyRecall(s.convKey, ev)
		}
	case OpDelete:
		var ev models.DeleteEvent
		if json.Unmarshal(op.Payload, &ev) == nil {
			s.rec.ApplyDelete(s.convKey, ev)
		}
	case OpAck:
		s.applyAck(op)
	case OpPatchMedia:
		var p mediaPatch
		if json.Unmarshal(op.Payload, &p) == nil {
			s.store.PatchMedia(s.convKey, p.MessageID, p.URLs, p.FileName, p.MimeType)
		}
	case OpPin:
		var p pinOp
		if json.Unmarshal(op.Payload, &p) == nil {
			s.store.SetPinned(s.convKey, p.MessageID, p.Pinned)
		}
	case OpLocalSend:
		s.applyLocalSend(op)
	case opFlush:
		var m flushMarker
		if json.Unmarshal(op.Payload, &m) == nil {
			if v, ok := s.flushes.LoadAndDelete(m.ID); ok {
				close(v.(chan struct{}))
			}
		}
	default:
		logger.Warn("apply_unknown_op", "conv", s.convKey, "kind", op.Kind)
	}
}

func (s *Session) applyIngest(op *Op) {
	var raw models.RawMessage
	if err := json.Unmarshal(op.Payload, &raw); err != nil {
		telemetry.MalformedDropped.Inc()
		logger.Warn("ingest_undecodable", "conv", s.convKey, "error", err)
		return
	}
	if raw.ID != "" && s.ledger.HasSeen(s.convKey, raw.ID) {
		telemetry.DuplicatesSkipped.Inc()
		// a refetch may still carry a newer authoritative status; terminal
		// states have their own apply paths
		switch models.Status(raw.Status) {
		case "":
		case models.StatusRecalled:
			s.rec.ApplyRecall(s.convKey, models.RecallEvent{MessageID: raw.ID})
		case models.StatusDeleted:
			s.rec.ApplyDelete(s.convKey, models.DeleteEvent{MessageID: raw.ID})
		default:
			s.rec.ApplyStatus(s.convKey, models.StatusEvent{MessageID: raw.ID, Status: raw.Status})
		}
		return
	}
	msg, err := s.norm.Normalize(s.ctx, s.convKey, raw)
	if err != nil {
		logger.Warn("ingest_dropped", "conv", s.convKey, "msg_id", raw.ID, "error", err)
		return
	}
	if msg.Status == models.StatusDeleted {
		// already deleted server-side; record the id so echoes stay out
		s.ledger.MarkSeen(s.convKey, msg.ID)
		return
	}
	if s.store.Append(s.convKey, msg) {
		telemetry.MessagesIngested.WithLabelValues(op.Source).Inc()
	}
	s.ledger.MarkSeen(s.convKey, msg.ID)

	if normalize.NeedsMediaBackfill(msg) {
		s.bfWG.Add(1)
		go func(id string) {
			defer s.bfWG.Done()
			s.backfillMedia(id)
		}(msg.ID)
	}
}

func (s *Session) applyAck(op *Op) {
	var ack models.AckEvent
	if err := json.Unmarshal(op.Payload, &ack); err != nil || ack.TempID == "" {
		telemetry.MalformedDropped.Inc()
		return
	}
	confirmed, err := s.norm.Normalize(s.ctx, s.convKey, ack.Message)
	if err != nil {
		logger.Warn("ack_dropped", "conv", s.convKey, "temp_id", ack.TempID, "error", err)
		return
	}
	s.ledger.ReplaceID(s.convKey, ack.TempID, confirmed.ID)
	s.ledger.MarkSeen(s.convKey, confirmed.ID)
	if !s.store.ReplaceTempID(s.convKey, ack.TempID, confirmed) {
		// temp entry gone (e.g. restored session); fall back to append
		s.store.Append(s.convKey, confirmed)
	}
}

func (s *Session) applyLocalSend(op *Op) {
	var msg models.Message
	if err := json.Unmarshal(op.Payload, &msg); err != nil {
		return
	}
	if s.store.Append(s.convKey, msg) {
		telemetry.MessagesIngested.WithLabelValues("local").Inc()
	}
	s.ledger.MarkSeen(s.convKey, msg.ID)
}

// backfill performs the initial REST fetch after cold start.
func (s *Session) backfill() {
	raws, err := s.source.FetchMessages(s.ctx, s.convKey)
	if err != nil {
		// non-fatal: the cached view remains usable
		logger.Warn("backfill_failed", "conv", s.convKey, "error", err)
		return
	}
	for _, raw := range raws {
		if err := s.EnqueueRaw("rest", raw); err != nil {
			return
		}
	}
}

// backfillMedia recovers the media URL for a message that raced its
// upload; runs off the apply loop and feeds the result back as an op.
func (s *Session) backfillMedia(messageID string) {
	urls, fileName, mimeType, err := s.norm.BackfillMedia(s.ctx, s.convKey, messageID)
	if err != nil {
		logger.Warn("media_backfill_failed", "conv", s.convKey, "msg_id", messageID, "error", err)
		return
	}
	if len(urls) == 0 {
		return
	}
	payload, err := json.Marshal(mediaPatch{MessageID: messageID, URLs: urls, FileName: fileName, MimeType: mimeType})
	if err != nil {
		return
	}
	_ = s.q.tryEnqueue(Op{Kind: OpPatchMedia, Source: "rest", Payload: payload})
}

// runRefetch re-pulls the conversation on the configured cron schedule.
func (s *Session) runRefetch() {
	for {
		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(s.cron, now, false)
		if err != nil {
			logger.Error("refetch_cron_failed", "conv", s.convKey, "cron", s.cron, "error", err)
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(next.Sub(now)):
		}
		telemetry.Refetches.Inc()
		raws, err := s.source.FetchMessages(s.ctx, s.convKey)
		if err != nil {
			logger.Warn("refetch_failed", "conv", s.convKey, "error", err)
			continue
		}
		for _, raw := range raws {
			_ = s.EnqueueRaw("rest", raw)
		}
	}
}
