package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"gopkg.in/gomail.v2"

	jobmetrics "github.com/odyssey-erp/replenish/internal/jobs"
	"github.com/odyssey-erp/replenish/jobs"
)

// MailerConfig holds SMTP settings.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender is satisfied by *gomail.Dialer.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer consumes mail:send tasks and delivers them over SMTP.
type Mailer struct {
	sender  Sender
	from    string
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewMailer builds a Mailer dialing cfg.Host for every task.
func NewMailer(cfg MailerConfig, logger *slog.Logger, metrics *jobmetrics.Metrics) *Mailer {
	return &Mailer{
		sender:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		Logger:  logger,
		Metrics: metrics,
	}
}

// Compose builds the plain-text message for payload.
func (m *Mailer) Compose(payload jobs.SendEmailPayload) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", payload.To)
	msg.SetHeader("Subject", payload.Subject)
	msg.SetBody("text/plain", payload.Body)
	return msg
}

// Handle processes jobs.TaskTypeSendEmail tasks. SMTP errors are returned so asynq retries.
func (m *Mailer) Handle(ctx context.Context, t *asynq.Task) error {
	if m == nil || m.sender == nil {
		return errors.New("mailer: not configured")
	}
	var payload jobs.SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		return asynq.SkipRetry
	}
	tracker := m.Metrics.Track(jobs.TaskTypeSendEmail)
	logger := m.logger().With(slog.String("to", payload.To), slog.String("subject", payload.Subject))

	if err := m.sender.DialAndSend(m.Compose(payload)); err != nil {
		logger.Warn("send email", slog.Any("error", err))
		return tracker.End(fmt.Errorf("mailer: send: %w", err))
	}
	logger.Info("email sent")
	return tracker.End(nil)
}

func (m *Mailer) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger.With(slog.String("job", jobs.TaskTypeSendEmail))
	}
	return slog.Default().With(slog.String("job", jobs.TaskTypeSendEmail))
}
