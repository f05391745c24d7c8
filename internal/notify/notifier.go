// Package notify delivers client notifications through the mail queue.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/replenish/jobs"
)

// Enqueuer is satisfied by *jobs.Client.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, payload jobs.SendEmailPayload) (*asynq.TaskInfo, error)
}

// QueueNotifier hands messages to the worker instead of talking SMTP in-line, so a slow
// mail server never holds up settlement.
type QueueNotifier struct {
	queue Enqueuer
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(queue Enqueuer) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

// Send enqueues a mail:send task.
func (n *QueueNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	if n == nil || n.queue == nil {
		return errors.New("notify: queue not configured")
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return errors.New("notify: recipient required")
	}
	if _, err := n.queue.EnqueueSendEmail(ctx, jobs.SendEmailPayload{To: recipient, Subject: subject, Body: body}); err != nil {
		return fmt.Errorf("notify: enqueue mail: %w", err)
	}
	return nil
}
