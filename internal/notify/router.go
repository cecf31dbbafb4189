// Package notify implements core.Notifier for email, SMS and chat webhooks.
package notify

import (
	"context"
	"fmt"

	"smartmarket/internal/core"
)

// Router dispatches a notification to the Notifier registered for its channel.
type Router struct {
	routes map[core.Channel]core.Notifier
}

func NewRouter() *Router {
	return &Router{routes: make(map[core.Channel]core.Notifier)}
}

// Handle registers n for channel, replacing any previous registration.
func (r *Router) Handle(channel core.Channel, n core.Notifier) *Router {
	r.routes[channel] = n
	return r
}

func (r *Router) Send(ctx context.Context, n core.Notification) error {
	target, ok := r.routes[n.Channel]
	if !ok {
		return fmt.Errorf("no notifier configured for channel %q", n.Channel)
	}
	return target.Send(ctx, n)
}
