package email

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"text/template"
	"time"

	"recipestore/internal/config"
	"recipestore/internal/logger"
)

const sendTimeout = 30 * time.Second

// Message is a rendered email.
type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}

// ActivationData fills the premium activation email.
type ActivationData struct {
	FullName         string
	Email            string
	PlanName         string
	OrderCode        int64
	Amount           int64
	PremiumExpiresAt time.Time
}

var activationTemplate = template.Must(template.New("activation").Funcs(template.FuncMap{
	"formatVND":  FormatVND,
	"formatDate": func(t time.Time) string { return t.UTC().Format("02 Jan 2006 15:04 UTC") },
}).Parse(`Subject: Your premium membership is active

Hi {{if .FullName}}{{.FullName}}{{else}}there{{end}},

Thanks for your purchase. Your premium access is now active.

Plan:        {{.PlanName}}
Order code:  {{.OrderCode}}
Amount paid: {{formatVND .Amount}}
Valid until: {{formatDate .PremiumExpiresAt}}

Premium recipes, including full ingredient lists and step-by-step
instructions, are unlocked for the rest of your membership.

Happy cooking!
`))

// Mailer sends mail through the sendmail binary, or logs it in mock mode.
type Mailer struct {
	cfg config.EmailConfig

	mu   sync.Mutex
	sent []Message
}

func NewMailer(cfg config.EmailConfig) *Mailer {
	if cfg.SendmailPath == "" {
		cfg.SendmailPath = "/usr/sbin/sendmail"
	}
	return &Mailer{cfg: cfg}
}

// SendPremiumActivation confirms a premium purchase to the buyer.
func (m *Mailer) SendPremiumActivation(ctx context.Context, d ActivationData) error {
	if !m.cfg.SendConfirmations {
		logger.LogInfo("Confirmation emails disabled, skipping activation email for order %d", d.OrderCode)
		return nil
	}

	var buf bytes.Buffer
	if err := activationTemplate.Execute(&buf, d); err != nil {
		return fmt.Errorf("failed to execute activation template: %w", err)
	}
	subject, body, err := splitSubject(buf.String())
	if err != nil {
		return err
	}

	logger.LogInfo("Sending activation email to %s for order %d", d.Email, d.OrderCode)
	if err := m.SendMail(ctx, d.Email, m.cfg.ConfirmationSender, subject, body); err != nil {
		return fmt.Errorf("failed to send activation email: %w", err)
	}
	return nil
}

// SendAlert sends an alert to the administrators.
func (m *Mailer) SendAlert(ctx context.Context, subject, body string) error {
	return m.SendMail(ctx, m.cfg.AlertRecipient, m.cfg.AlertSender, subject, body)
}

// SendMail delivers one message.
func (m *Mailer) SendMail(ctx context.Context, to, from, subject, body string) error {
	msg := Message{To: headerSafe(to), From: headerSafe(from), Subject: headerSafe(subject), Body: body}
	if msg.To == "" {
		return fmt.Errorf("email has no recipient")
	}

	if m.cfg.MockMode {
		m.mu.Lock()
		m.sent = append(m.sent, msg)
		m.mu.Unlock()
		logger.LogInfo("Mock email: to=%s from=%s subject=%q bytes=%d", msg.To, msg.From, msg.Subject, len(body))
		return nil
	}

	headers := []string{
		"From: " + msg.From,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"utf-8\"",
		"",
	}
	payload := strings.Join(headers, "\r\n") + "\r\n" + body

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, m.cfg.SendmailPath, "-t")
	cmd.Stdin = strings.NewReader(payload)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("sendmail command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	logger.LogInfo("Email sent to %s with subject: %s", msg.To, msg.Subject)
	return nil
}

// Sent returns the messages captured in mock mode.
func (m *Mailer) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent))
	copy(out, m.sent)
	return out
}

// FormatVND renders an amount with thousands separators, e.g. 99.000 ₫.
func FormatVND(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := fmt.Sprintf("%d", amount)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + " ₫"
}

func splitSubject(content string) (string, string, error) {
	first, rest, ok := strings.Cut(content, "\n")
	if !ok || !strings.HasPrefix(first, "Subject: ") {
		return "", "", fmt.Errorf("invalid template format: missing subject line")
	}
	return strings.TrimPrefix(first, "Subject: "), strings.TrimPrefix(rest, "\n"), nil
}

// headerSafe strips line breaks so values cannot inject headers.
func headerSafe(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", "", "\n", " ").Replace(s))
}
