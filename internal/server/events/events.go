// Package events carries delivery facts between the delivery engine and
// the notification orchestrator over typed channels. Handlers are passed
// to Run explicitly at startup; there is no global registry.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/keepsake/internal/logging"
	"github.com/dmitrijs2005/keepsake/internal/server/models"
)

// KeepsakeDelivered is published after the delivery has been persisted.
type KeepsakeDelivered struct {
	KeepsakeID  string
	VaultID     string
	Trigger     models.TriggerCondition
	DeliveredAt time.Time
}

// DeathDeclared is published when a trusted person declares the owner's death.
type DeathDeclared struct {
	VaultID         string
	TrustedPersonID string
	DeclaredAt      time.Time
}

// Handlers receive events from Run. A nil handler drops its events.
type Handlers struct {
	OnDelivered     func(ctx context.Context, e KeepsakeDelivered) error
	OnDeathDeclared func(ctx context.Context, e DeathDeclared) error
}

// Bus is an in-process, at-least-once-per-publish event channel pair.
type Bus struct {
	delivered chan KeepsakeDelivered
	death     chan DeathDeclared
	logger    logging.Logger
}

func NewBus(buffer int, logger logging.Logger) *Bus {
	return &Bus{
		delivered: make(chan KeepsakeDelivered, buffer),
		death:     make(chan DeathDeclared, buffer),
		logger:    logger.With("module", "events"),
	}
}

// PublishDelivered blocks until the event is queued or ctx is done.
func (b *Bus) PublishDelivered(ctx context.Context, e KeepsakeDelivered) error {
	select {
	case b.delivered <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishDeathDeclared blocks until the event is queued or ctx is done.
func (b *Bus) PublishDeathDeclared(ctx context.Context, e DeathDeclared) error {
	select {
	case b.death <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches events until ctx is cancelled. Each event kind has its own
// loop, so a death handler may publish delivered events without deadlocking.
// Handler errors are logged and do not stop the loop.
func (b *Bus) Run(ctx context.Context, h Handlers) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-b.delivered:
				if h.OnDelivered == nil {
					continue
				}
				if err := h.OnDelivered(ctx, e); err != nil {
					b.logger.Error(ctx, "keepsake delivered handler failed",
						"keepsake_id", e.KeepsakeID, "vault_id", e.VaultID, "error", err)
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-b.death:
				if h.OnDeathDeclared == nil {
					continue
				}
				if err := h.OnDeathDeclared(ctx, e); err != nil {
					b.logger.Error(ctx, "death declared handler failed", "vault_id", e.VaultID, "error", err)
				}
			}
		}
	}()

	wg.Wait()
}
