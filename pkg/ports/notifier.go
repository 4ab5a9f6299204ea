package ports

import "context"

// Notifier delivers operator alerts. Delivery is best-effort; callers log
// failures and never abort on them.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// NopNotifier discards every alert.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, string) error { return nil }
