// Package notify delivers ledger events to users on a best-effort basis.
// Publish never blocks the caller; a background Run loop fans each event
// out to every registered Sender.
package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, ev domain.Event) error
	Name() string
}

// Notifier queues events and dispatches them to its senders.
type Notifier struct {
	senders     []Sender
	queue       chan domain.Event
	sendTimeout time.Duration
	dropped     atomic.Int64
	logger      *slog.Logger
}

// NewNotifier creates a Notifier with a queue of cfg.QueueSize events.
func NewNotifier(cfg config.NotifyConfig, logger *slog.Logger, senders ...Sender) *Notifier {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		senders:     senders,
		queue:       make(chan domain.Event, size),
		sendTimeout: timeout,
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// AddSender registers another channel. Call before Run.
func (n *Notifier) AddSender(s Sender) { n.senders = append(n.senders, s) }

// Publish enqueues ev. When the queue is full the event is dropped and logged.
func (n *Notifier) Publish(ev domain.Event) {
	select {
	case n.queue <- ev:
	default:
		total := n.dropped.Add(1)
		n.logger.Warn("notification queue full, event dropped",
			slog.String("kind", string(ev.Kind)),
			slog.String("user_id", ev.UserID.String()),
			slog.Int64("dropped_total", total),
		)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

// Run drains the queue until ctx is cancelled. Events still queued at that
// point are flushed with a fresh timeout before Run returns.
func (n *Notifier) Run(ctx context.Context) error {
	n.logger.Info("notifier started", slog.Int("senders", len(n.senders)))
	for {
		select {
		case ev := <-n.queue:
			n.dispatch(ctx, ev)
		case <-ctx.Done():
			n.flush()
			n.logger.Info("notifier stopped")
			return nil
		}
	}
}

func (n *Notifier) flush() {
	ctx := context.Background()
	for {
		select {
		case ev := <-n.queue:
			n.dispatch(ctx, ev)
		default:
			return
		}
	}
}

// dispatch hands ev to every sender. A failing sender is logged and does not
// affect the others.
func (n *Notifier) dispatch(parent context.Context, ev domain.Event) {
	for _, s := range n.senders {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), n.sendTimeout)
		err := s.Send(ctx, ev)
		cancel()
		if err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("kind", string(ev.Kind)),
		)
	}
}
