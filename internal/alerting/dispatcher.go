package alerting

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"device-health-alerts/internal/storage"
)

// DispatchResult reports the outcome of one notification attempt.
type DispatchResult struct {
	Recipients int
	Err        error
}

// Failed reports whether delivery failed.
func (r DispatchResult) Failed() bool {
	return r.Err != nil
}

// Dispatcher resolves the audience for a persisted alert and sends one
// message to the full recipient list. Delivery is best-effort: the ledger
// row is the source of truth and a failed send is never rolled back.
type Dispatcher struct {
	targets       storage.TargetSource
	notifier      Notifier
	subjectPrefix string
	logger        zerolog.Logger
}

// NewDispatcher wires target resolution and the outbound channel.
func NewDispatcher(targets storage.TargetSource, notifier Notifier, subjectPrefix string, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		targets:       targets,
		notifier:      notifier,
		subjectPrefix: subjectPrefix,
		logger:        logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch notifies platform admins plus the device's client admins about
// a freshly persisted alert. Recipients are resolved per alert, never
// cached across runs.
func (d *Dispatcher) Dispatch(ctx context.Context, record storage.AlertRecord, dev storage.DeviceConfig) DispatchResult {
	if d == nil || d.notifier == nil {
		return DispatchResult{}
	}

	recipients, err := d.targets.ListNotificationTargets(ctx, dev.ClientID)
	if err != nil {
		return DispatchResult{Err: fmt.Errorf("resolve notification targets: %w", err)}
	}
	if len(recipients) == 0 {
		d.logger.Warn().Str("device_id", dev.ID).Msg("no notification targets for alert")
		return DispatchResult{}
	}

	subject := fmt.Sprintf("%s %s at %s", d.subjectPrefix, record.AlertType, dev.ClientName)
	body := renderBody(record, dev)

	if err := d.notifier.Send(ctx, recipients, subject, body); err != nil {
		return DispatchResult{Recipients: len(recipients), Err: err}
	}

	d.logger.Info().
		Str("device_id", dev.ID).
		Str("alert_type", record.AlertType).
		Int("recipients", len(recipients)).
		Msg("alert dispatched")
	return DispatchResult{Recipients: len(recipients)}
}

func renderBody(record storage.AlertRecord, dev storage.DeviceConfig) string {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	builder := strings.Builder{}
	builder.WriteString("<h1>Equipment Monitoring Alert</h1>\n")
	builder.WriteString("<p>A new alert has been detected:</p>\n<ul>\n")
	builder.WriteString(fmt.Sprintf("<li><strong>Client:</strong> %s</li>\n", html.EscapeString(dev.ClientName)))
	builder.WriteString(fmt.Sprintf("<li><strong>Equipment:</strong> %s (Node: %s)</li>\n",
		html.EscapeString(dev.Location), html.EscapeString(dev.NodeID)))
	builder.WriteString(fmt.Sprintf("<li><strong>Alert type:</strong> %s</li>\n", record.AlertType))
	builder.WriteString(fmt.Sprintf("<li><strong>Details:</strong> %s</li>\n", html.EscapeString(record.Details)))
	builder.WriteString(fmt.Sprintf("<li><strong>Time:</strong> %s</li>\n", createdAt.UTC().Format(time.RFC3339)))
	builder.WriteString("</ul>\n<p>See the dashboard for full history.</p>")
	return builder.String()
}
