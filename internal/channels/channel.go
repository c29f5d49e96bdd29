// Package channels connects external messaging surfaces to the orchestration
// core. A channel is both a Sender for outbound actions and an inbound source
// feeding the gateway.
package channels

import (
	"context"

	"github.com/vendaflow/vendaflow/internal/bus"
)

// Channel is a bidirectional messaging surface.
type Channel interface {
	// Name returns the channel identifier, e.g. "whatsapp".
	Name() string

	// Start begins listening for inbound traffic. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down gracefully.
	Stop(ctx context.Context) error

	// Send delivers one outbound action.
	Send(ctx context.Context, action bus.OutboundAction) error
}

// Truncate shortens a string for log previews.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
