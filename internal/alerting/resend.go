package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ResendNotifier pushes email through the Resend API.
type ResendNotifier struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewResendNotifier constructs a Resend email notifier.
func NewResendNotifier(apiKey, from, baseURL string, timeout time.Duration, logger zerolog.Logger) *ResendNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.resend.com"
	}

	return &ResendNotifier{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_resend").Logger(),
	}
}

type resendPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send posts one email to the full recipient list.
func (n *ResendNotifier) Send(ctx context.Context, to []string, subject, html string) error {
	if len(to) == 0 {
		return fmt.Errorf("no recipients")
	}

	body, err := json.Marshal(resendPayload{
		From:    n.from,
		To:      to,
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("marshal resend payload: %w", err)
	}

	url := n.baseURL + "/emails"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create resend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.apiKey)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send resend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("resend 返回异常状态码: %d", resp.StatusCode)
	}

	n.logger.Info().Int("recipients", len(to)).Str("subject", subject).Msg("告警邮件已发送 (Resend)")
	return nil
}

var _ Notifier = (*ResendNotifier)(nil)
