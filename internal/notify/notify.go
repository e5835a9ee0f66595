// Package notify implements a best-effort notification sink:
// non-blocking from the caller's perspective, persisted via Store.
// Uses a buffered channel drained by one background goroutine, the
// same shape as a websocket broadcast loop applied to persisted
// notifications instead of live broadcast frames.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/iamshubha/poly-copytrade-sub000/internal/domain"
	"github.com/iamshubha/poly-copytrade-sub000/internal/store"
)

// Notifier is the capability the executor depends on. Notify must never
// block order submission.
type Notifier interface {
	Notify(user domain.Address, kind domain.NotificationKind, payload map[string]any)
}

// StoreNotifier buffers notifications on a channel and persists them from
// a single background goroutine, so a slow or unavailable store cannot
// stall a worker mid-execution.
type StoreNotifier struct {
	store store.Store
	log   zerolog.Logger
	queue chan domain.Notification
	done  chan struct{}
}

// NewStoreNotifier constructs a StoreNotifier. Call Run to start the drain
// goroutine.
func NewStoreNotifier(st store.Store, log zerolog.Logger) *StoreNotifier {
	return &StoreNotifier{
		store: st,
		log:   log.With().Str("component", "notifier").Logger(),
		queue: make(chan domain.Notification, 1024),
		done:  make(chan struct{}),
	}
}

// Notify enqueues a notification. If the internal buffer is full, the
// notification is dropped and logged rather than blocking the caller.
func (n *StoreNotifier) Notify(user domain.Address, kind domain.NotificationKind, payload map[string]any) {
	notif := domain.Notification{
		ID:        uuid.NewString(),
		User:      user,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
	select {
	case n.queue <- notif:
	default:
		n.log.Warn().Str("user", string(user)).Str("kind", string(kind)).Msg("notification buffer full, dropping")
	}
}

// Run drains the queue until ctx is cancelled.
func (n *StoreNotifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case notif := <-n.queue:
			if err := n.store.InsertNotification(ctx, notif); err != nil {
				n.log.Error().Err(err).Str("notification_id", notif.ID).Msg("failed to persist notification")
			}
		}
	}
}

// Stop signals Run to exit after draining any in-flight persist call.
func (n *StoreNotifier) Stop() { close(n.done) }
