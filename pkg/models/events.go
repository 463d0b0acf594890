package models

// Realtime event names as emitted on a subscribed conversation channel.
type EventName string

const (
	EventNewMessage     EventName = "newMessage"
	EventMessageStatus  EventName = "messageStatus"
	EventMessageRecall  EventName = "messageRecalled"
	EventMessageDeleted EventName = "messageDeleted"
	EventMessageAck     EventName = "messageAck"
)

// StatusEvent updates the delivery state of an existing message.
type StatusEvent struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// RecallEvent withdraws a message's content, leaving a placeholder.
type RecallEvent struct {
	MessageID string `json:"messageId"`
}

// DeleteEvent removes a message from the local sequence.
type DeleteEvent struct {
	MessageID string `json:"messageId"`
}

// AckEvent confirms an optimistically sent message: the server-issued
// message replaces the temp-id entry in place.
type AckEvent struct {
	TempID  string     `json:"tempId"`
	Message RawMessage `json:"message"`
}
