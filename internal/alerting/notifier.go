package alerting

import (
	"context"
)

// Notifier delivers one message to a list of recipients.
type Notifier interface {
	Send(ctx context.Context, to []string, subject, html string) error
}
