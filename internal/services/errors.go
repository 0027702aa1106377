package services

import (
	"errors"
	"time"

	"eco-referral/internal/notify"
)

var (
	// ErrOwnerNotFound is returned when a code is requested for an unknown owner
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrCodeNotFound is returned for unknown or deactivated referral codes
	ErrCodeNotFound = errors.New("referral code not found")
	// ErrNotAttributed means the subject arrived organically
	ErrNotAttributed = errors.New("subject not attributed")
	// ErrActionNotFound is returned for action IDs never delivered
	ErrActionNotFound = errors.New("action not found")
	// ErrRewardNotFound is returned by reward reads for unknown IDs
	ErrRewardNotFound = errors.New("reward not found")
	// ErrInvalidAction is returned for malformed qualifying actions
	ErrInvalidAction = errors.New("invalid qualifying action")
	// ErrCodeSpaceExhausted means every generated candidate collided
	ErrCodeSpaceExhausted = errors.New("could not generate a unique referral code")
)

// Clock supplies the current time
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

type options struct {
	clock    Clock
	notifier notify.Notifier
}

// Option configures a service
type Option func(*options)

// WithClock overrides the time source
func WithClock(clock Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithNotifier sets the dispatcher that receives domain events
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:    utcNow,
		notifier: notify.Noop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	// SQLite compares timestamps as text, so every stored time must be UTC
	clock := o.clock
	o.clock = func() time.Time { return clock().UTC() }
	return o
}
