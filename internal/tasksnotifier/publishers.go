package tasksnotifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

const natsFlushTimeout = 5 * time.Second

// NATSPublisher publishes every event as JSON to "<subject>.<event type>".
// A batch that failed part way is published again as a whole, so every message
// carries a Nats-Msg-Id header derived from the event for consumers (and
// JetStream streams) to deduplicate on.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subject string, opts ...nats.Option) (*NATSPublisher, error) {
	opts = append([]nats.Option{nats.Name("tasktracker")}, opts...)

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf(
			"in internal/tasksnotifier/publishers.go/NewNATSPublisher(): error while `nats.Connect()` calling: %w",
			err,
		)
	}

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
	}, nil
}

// Subject returns the subject an event of the given type is published to.
func (p *NATSPublisher) Subject(eventType models.TaskEventType) string {
	return p.subject + "." + string(eventType)
}

func (p *NATSPublisher) Publish(ctx context.Context, events []*models.TaskEvent) error {
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf(
				"in internal/tasksnotifier/publishers.go/Publish(): error while `json.Marshal()` calling: %w",
				err,
			)
		}

		msg := nats.NewMsg(p.Subject(event.Type))
		msg.Header.Set(nats.MsgIdHdr, MessageID(event))
		msg.Data = data

		if err := p.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf(
				"in internal/tasksnotifier/publishers.go/Publish(): error while `p.conn.PublishMsg()` calling: %w",
				err,
			)
		}
	}

	flushCtx, cancel := context.WithTimeout(ctx, natsFlushTimeout)
	defer cancel()

	if err := p.conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf(
			"in internal/tasksnotifier/publishers.go/Publish(): error while `p.conn.FlushWithContext()` calling: %w",
			err,
		)
	}

	return nil
}

// MessageID identifies an event across publish retries.
func MessageID(event *models.TaskEvent) string {
	return fmt.Sprintf("%s:%s:%d", event.TaskID, event.Type, event.OccurredAt.UnixNano())
}

// Close drains the connection so buffered messages are delivered.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LogPublisher writes events to the application log. It is used when no
// message broker is configured.
type LogPublisher struct{}

func (LogPublisher) Publish(_ context.Context, events []*models.TaskEvent) error {
	for _, event := range events {
		logger.Log.Infow("task event",
			"type", event.Type,
			"owner_id", event.OwnerID,
			"task_id", event.TaskID,
			"occurred_at", event.OccurredAt,
		)
	}

	return nil
}
