package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/gdprcheck/contractcheck/config"
	"github.com/gdprcheck/contractcheck/engine"
	"github.com/gdprcheck/contractcheck/model"
	"github.com/gdprcheck/contractcheck/pkg/logger"
)

// Messenger delivers free form messages such as template update reports
type Messenger interface {
	Send(ctx context.Context, subject, body string) error
}

// AlertSubject is the subject line of a compliance alert
func AlertSubject(r model.ComparisonResult) string {
	return fmt.Sprintf("GDPR Compliance Alert: %s - Risk Score %d/100", r.AgreementType.DisplayName(), r.RiskScore)
}

// AlertBody renders a compliance alert as plain text
func AlertBody(r model.ComparisonResult) string {
	var b strings.Builder
	b.WriteString("GDPR COMPLIANCE FAILURE NOTIFICATION\n\n")

	b.WriteString("DOCUMENT INFORMATION\n")
	fmt.Fprintf(&b, "Document Type: %s\n", r.AgreementType.DisplayName())
	fmt.Fprintf(&b, "Analysis Date: %s\n\n", r.Timestamp.Format(time.RFC1123))

	b.WriteString("RISK ASSESSMENT\n")
	fmt.Fprintf(&b, "Risk Score:    %d/100\n", r.RiskScore)
	fmt.Fprintf(&b, "Risk Level:    %s RISK\n\n", strings.ToUpper(r.RiskLevel()))

	writeList(&b, "MISSING CLAUSES", r.MissingClauses, "None detected")
	writeList(&b, "COMPLIANCE RISKS IDENTIFIED", r.ComplianceRisks, "None detected")
	writeList(&b, "RECOMMENDATIONS", r.Recommendations, "No recommendations available")

	b.WriteString("This alert was generated automatically by the GDPR compliance checker.\n")
	b.WriteString("Please review and take appropriate action to ensure compliance.\n")
	return b.String()
}

func writeList(b *strings.Builder, title string, items []string, empty string) {
	b.WriteString(title + "\n")
	if len(items) == 0 {
		b.WriteString("  " + empty + "\n\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "  • %s\n", item)
	}
	b.WriteString("\n")
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailNotifier sends alerts over SMTP. smtp.SendMail upgrades the
// connection with STARTTLS when the server offers it.
type EmailNotifier struct {
	cfg      config.SMTPConfig
	sendMail sendMailFunc
}

// NewEmailNotifier creates an SMTP notifier
func NewEmailNotifier(cfg config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, sendMail: smtp.SendMail}
}

// Notify implements engine.Notifier
func (n *EmailNotifier) Notify(ctx context.Context, r model.ComparisonResult) error {
	return n.Send(ctx, AlertSubject(r), AlertBody(r))
}

// Send emails subject and body to the configured receiver
func (n *EmailNotifier) Send(ctx context.Context, subject, body string) error {
	if n.cfg.Sender == "" || n.cfg.Password == "" || n.cfg.Receiver == "" {
		return fmt.Errorf("missing email credentials")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.Port))
	auth := smtp.PlainAuth("", n.cfg.Sender, n.cfg.Password, n.cfg.Host)
	if err := n.sendMail(addr, auth, n.cfg.Sender, []string{n.cfg.Receiver}, n.message(subject, body)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	logger.Info(ctx, "email sent", "receiver", n.cfg.Receiver, "subject", subject)
	return nil
}

func (n *EmailNotifier) message(subject, body string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", n.cfg.Sender)
	fmt.Fprintf(&b, "To: %s\r\n", n.cfg.Receiver)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.Bytes()
}

// SlackNotifier posts alerts to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewSlackNotifier creates a Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Notify implements engine.Notifier
func (n *SlackNotifier) Notify(ctx context.Context, r model.ComparisonResult) error {
	return n.Send(ctx, AlertSubject(r), AlertBody(r))
}

// Send posts subject and body as one message
func (n *SlackNotifier) Send(ctx context.Context, subject, body string) error {
	payload, err := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s*\n```%s```", subject, body),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	logger.Info(ctx, "slack message sent", "subject", subject)
	return nil
}

// Alerter both raises compliance alerts and delivers free form messages
type Alerter interface {
	engine.Notifier
	Messenger
}

// NewAlerters builds every alert channel the configuration enables
func NewAlerters(cfg *config.NotifyConfig) []Alerter {
	var out []Alerter
	if cfg.SMTPEnabled() {
		out = append(out, NewEmailNotifier(cfg.SMTP))
	}
	if cfg.Slack.WebhookURL != "" {
		out = append(out, NewSlackNotifier(cfg.Slack.WebhookURL))
	}
	return out
}
