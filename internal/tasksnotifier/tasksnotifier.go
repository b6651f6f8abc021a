// Package tasksnotifier collects task lifecycle events and publishes them in
// batches. Events are queued without blocking the request that produced them
// and flushed on a ticker; the pending batch is flushed once more on shutdown.
package tasksnotifier

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/patric-chuzhbe/tasktracker/internal/logger"
	"github.com/patric-chuzhbe/tasktracker/internal/models"
)

type publisher interface {
	Publish(ctx context.Context, events []*models.TaskEvent) error
}

// TasksNotifier buffers task events and hands them to a publisher.
type TasksNotifier struct {
	queue               chan *models.TaskEvent
	publisher           publisher
	delayBetweenFlushes time.Duration
	batchLimit          int
	shutdownTimeout     time.Duration
	errorChannel        chan error
	done                chan struct{}
	onPublished         func(events []*models.TaskEvent)
	onDropped           func(event *models.TaskEvent)
}

// InitOption configures optional TasksNotifier behavior.
type InitOption func(*TasksNotifier)

// WithOnPublished registers a callback invoked after every successful flush.
func WithOnPublished(callback func(events []*models.TaskEvent)) InitOption {
	return func(n *TasksNotifier) {
		n.onPublished = callback
	}
}

// WithOnDropped registers a callback invoked for every event rejected by a full queue.
func WithOnDropped(callback func(event *models.TaskEvent)) InitOption {
	return func(n *TasksNotifier) {
		n.onDropped = callback
	}
}

// WithShutdownTimeout bounds the final flush performed when Run's context is cancelled.
func WithShutdownTimeout(timeout time.Duration) InitOption {
	return func(n *TasksNotifier) {
		n.shutdownTimeout = timeout
	}
}

func New(
	publisher publisher,
	channelCapacity int,
	delayBetweenFlushes time.Duration,
	opts ...InitOption,
) *TasksNotifier {
	n := &TasksNotifier{
		publisher:           publisher,
		queue:               make(chan *models.TaskEvent, channelCapacity),
		delayBetweenFlushes: delayBetweenFlushes,
		batchLimit:          max(channelCapacity, 1),
		shutdownTimeout:     5 * time.Second,
		errorChannel:        make(chan error, channelCapacity),
		done:                make(chan struct{}),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// ListenErrors delivers publish errors to callback on a separate goroutine.
func (n *TasksNotifier) ListenErrors(callback func(error)) {
	go func() {
		for err := range n.errorChannel {
			callback(err)
		}
	}()
}

// EnqueueEvent queues event for the next flush. It never blocks; when the
// queue is full the event is dropped.
func (n *TasksNotifier) EnqueueEvent(event *models.TaskEvent) {
	select {
	case n.queue <- event:
	default:
		logger.Log.Warnw("tasks notifier queue is full, dropping event",
			"type", event.Type,
			"task_id", event.TaskID,
		)
		if n.onDropped != nil {
			n.onDropped(event)
		}
	}
}

// Run starts the flushing loop. A pending batch holds at most as many events
// as the queue; while it is full the loop stops reading the queue, so new
// events are dropped by EnqueueEvent instead of piling up behind a failing
// publisher. When ctx is done the loop drains the queue, flushes what is left
// and closes the channel returned by Done.
func (n *TasksNotifier) Run(ctx context.Context) {
	go func() {
		defer close(n.done)
		defer close(n.errorChannel)

		ticker := time.NewTicker(n.delayBetweenFlushes)
		defer ticker.Stop()

		var events []*models.TaskEvent

		for {
			incoming := n.queue
			if len(events) >= n.batchLimit {
				incoming = nil
			}

			select {
			case event := <-incoming:
				events = append(events, event)
			case <-ticker.C:
				if len(events) == 0 {
					continue
				}
				if err := n.flush(ctx, events); err != nil {
					n.reportError(err)
					continue
				}
				events = nil
			case <-ctx.Done():
				events = append(events, n.drain()...)
				if len(events) == 0 {
					return
				}
				flushCtx, cancel := context.WithTimeout(context.Background(), n.shutdownTimeout)
				if err := n.flush(flushCtx, events); err != nil {
					logger.Log.Errorw("final flush of task events failed",
						"events", len(events),
						zap.Error(err),
					)
				}
				cancel()
				return
			}
		}
	}()
}

// Done is closed once Run has returned after its final flush.
func (n *TasksNotifier) Done() <-chan struct{} {
	return n.done
}

func (n *TasksNotifier) drain() []*models.TaskEvent {
	var events []*models.TaskEvent
	for {
		select {
		case event := <-n.queue:
			events = append(events, event)
		default:
			return events
		}
	}
}

func (n *TasksNotifier) flush(ctx context.Context, events []*models.TaskEvent) error {
	if err := n.publisher.Publish(ctx, events); err != nil {
		return err
	}

	logger.Log.Infof("published %d task events", len(events))
	if n.onPublished != nil {
		n.onPublished(events)
	}

	return nil
}

func (n *TasksNotifier) reportError(err error) {
	select {
	case n.errorChannel <- err:
	default:
		logger.Log.Debugln("Error channel of the tasks notifier is full: ", zap.Error(err))
	}
}
