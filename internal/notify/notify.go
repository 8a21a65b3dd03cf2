// Package notify carries recovery-code notifications from the API to
// administrators: the API publishes them to a queue, the worker delivers them.
package notify

import (
	"context"
	"log"

	"github.com/fxamacker/cbor/v2"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/queue"
)

// MessageType marks queue messages that carry a Notification.
const MessageType = "recovery_code_used"

// QueueSink publishes notifications for the worker.
type QueueSink struct {
	q queue.Queue
}

func NewQueueSink(q queue.Queue) *QueueSink {
	return &QueueSink{q: q}
}

func (s *QueueSink) Notify(ctx context.Context, n attendance.Notification) error {
	body, err := cbor.Marshal(n)
	if err != nil {
		return err
	}
	return s.q.Publish(ctx, queue.Message{Type: MessageType, Body: body})
}

// Decode extracts the notification from a queue message.
func Decode(msg queue.Message) (attendance.Notification, error) {
	var n attendance.Notification
	err := cbor.Unmarshal(msg.Body, &n)
	return n, err
}

// LogSink writes notifications to the process log.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Notify(_ context.Context, n attendance.Notification) error {
	l := s.Logger
	if l == nil {
		l = log.Default()
	}
	if n.Reason != "" {
		l.Printf("NOTIFICATION TO ADMIN/PRINCIPAL: %s Reason: %s", n.Message, n.Reason)
		return nil
	}
	l.Printf("NOTIFICATION TO ADMIN/PRINCIPAL: %s", n.Message)
	return nil
}

// Delivery picks the final destination: the webhook when one is configured,
// the process log otherwise.
func Delivery(webhookURL string) attendance.NotificationSink {
	if webhookURL == "" {
		return LogSink{}
	}
	return NewWebhook(webhookURL)
}
