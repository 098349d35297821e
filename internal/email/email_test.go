package email

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/config"
	"recipestore/internal/logger"
)

func mockMailer() *Mailer {
	logger.UseNop()
	return NewMailer(config.EmailConfig{
		AlertRecipient:     "ops@example.com",
		AlertSender:        "alerts@example.com",
		ConfirmationSender: "noreply@example.com",
		SendConfirmations:  true,
		MockMode:           true,
	})
}

func TestPremiumActivationIsRendered(t *testing.T) {
	m := mockMailer()

	err := m.SendPremiumActivation(context.Background(), ActivationData{
		FullName:         "Lan Nguyen",
		Email:            "lan@example.com",
		PlanName:         "Premium Monthly",
		OrderCode:        1712345678901,
		Amount:           99000,
		PremiumExpiresAt: time.Date(2026, 11, 18, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "lan@example.com", sent[0].To)
	assert.Equal(t, "noreply@example.com", sent[0].From)
	assert.Equal(t, "Your premium membership is active", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "Hi Lan Nguyen,")
	assert.Contains(t, sent[0].Body, "99.000 ₫")
	assert.Contains(t, sent[0].Body, "18 Nov 2026")
}

func TestConfirmationsCanBeDisabled(t *testing.T) {
	m := mockMailer()
	m.cfg.SendConfirmations = false

	require.NoError(t, m.SendPremiumActivation(context.Background(), ActivationData{Email: "a@example.com"}))
	assert.Empty(t, m.Sent())
}

func TestAlertGoesToAdmins(t *testing.T) {
	m := mockMailer()

	require.NoError(t, m.SendAlert(context.Background(), "Webhook\r\nBcc: x@evil.test", "body"))
	sent := m.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "ops@example.com", sent[0].To)
	assert.NotContains(t, sent[0].Subject, "\n")
}

func TestFormatVND(t *testing.T) {
	assert.Equal(t, "0 ₫", FormatVND(0))
	assert.Equal(t, "999 ₫", FormatVND(999))
	assert.Equal(t, "99.000 ₫", FormatVND(99000))
	assert.Equal(t, "1.234.567 ₫", FormatVND(1234567))
	assert.Equal(t, "-5.000 ₫", FormatVND(-5000))
}
