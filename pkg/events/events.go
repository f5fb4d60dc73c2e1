package events

import (
	"context"
	"log/slog"
	"sync"
)

// Reason describes what changed about an account
type Reason string

const (
	ReasonLogout      Reason = "logout"
	ReasonProfile     Reason = "profile"
	ReasonRoles       Reason = "roles"
	ReasonPermissions Reason = "permissions"
	ReasonMenus       Reason = "menus"
	ReasonOrg         Reason = "org"
	ReasonTenant      Reason = "tenant"
)

// AccountChanged is published by every mutator that alters an account's
// identity, roles, permissions, menus or org membership.
type AccountChanged struct {
	AccountID string
	Reason    Reason
}

// Handler reacts to an AccountChanged event. Errors are logged by the bus
// and never returned to the publisher.
type Handler func(ctx context.Context, evt AccountChanged) error

// Publisher is the side mutators depend on
type Publisher interface {
	Publish(ctx context.Context, evt AccountChanged)
}

// Bus is a synchronous in-process fan-out. Publish returns only after every
// subscriber has run, so an invalidation is visible to the publisher's
// next read.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe registers h for every subsequent event
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers evt to each subscriber in registration order
func (b *Bus) Publish(ctx context.Context, evt AccountChanged) {
	if evt.AccountID == "" {
		return
	}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			b.logger.WarnContext(ctx, "account event handler failed",
				slog.String("account_id", evt.AccountID),
				slog.String("reason", string(evt.Reason)),
				slog.Any("error", err),
			)
		}
	}
}

// PublishAll publishes the same reason for several accounts
func PublishAll(ctx context.Context, p Publisher, reason Reason, accountIDs ...string) {
	for _, id := range accountIDs {
		p.Publish(ctx, AccountChanged{AccountID: id, Reason: reason})
	}
}
