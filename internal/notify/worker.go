package notify

import (
	"context"
	"log"
	"time"

	"schoolattendance/internal/attendance"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/queue"
)

// Worker delivers queued notifications to a sink, retrying a few times.
type Worker struct {
	Queue    queue.Queue
	Sink     attendance.NotificationSink
	Attempts int
	Backoff  time.Duration
}

// Run consumes until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	messages, err := w.Queue.Consume(ctx)
	if err != nil {
		return err
	}
	for msg := range messages {
		if msg.Type != MessageType {
			continue
		}
		n, err := Decode(msg)
		if err != nil {
			log.Printf("drop malformed notification: %v", err)
			metrics.NotificationsDelivered.WithLabelValues("malformed").Inc()
			continue
		}
		if err := w.deliver(ctx, n); err != nil {
			log.Printf("notification %s for teacher %s not delivered: %v", n.ID, n.TeacherID, err)
			metrics.NotificationsDelivered.WithLabelValues("failed").Inc()
			continue
		}
		metrics.NotificationsDelivered.WithLabelValues("ok").Inc()
	}
	return nil
}

func (w *Worker) deliver(ctx context.Context, n attendance.Notification) error {
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := w.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.Sink.Notify(ctx, n); err == nil {
			return nil
		}
		select {
		case <-time.After(backoff * time.Duration(i+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
