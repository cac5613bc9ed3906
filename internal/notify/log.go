package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier logs messages instead of delivering them. Used when no broker
// is configured.
type LogNotifier struct {
	Log zerolog.Logger
}

// Send logs the message.
func (n *LogNotifier) Send(_ context.Context, to, subject, _ string) error {
	n.Log.Info().Str("to", to).Str("subject", subject).Msg("notification (not delivered, no broker configured)")
	return nil
}
