package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueReplenish carries replenishment cycles and manual client runs.
	QueueReplenish = "replenish"

	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskReplenishCycle runs the daily replenishment cycle.
	TaskReplenishCycle = "replenish:cycle"
	// TaskReplenishClient runs replenishment for a single client.
	TaskReplenishClient = "replenish:client"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// ReplenishCyclePayload carries scheduling metadata.
type ReplenishCyclePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReplenishCycleTask constructs the cycle task. The cron entry reuses it every tick.
func NewReplenishCycleTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ReplenishCyclePayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplenishCycle, body, asynq.Queue(QueueReplenish)), nil
}

// ReplenishClientPayload identifies the client to replenish.
type ReplenishClientPayload struct {
	ClientID int64 `json:"client_id"`
}

// NewReplenishClientTask constructs a manual run task for clientID.
func NewReplenishClientTask(clientID int64) (*asynq.Task, error) {
	body, err := json.Marshal(ReplenishClientPayload{ClientID: clientID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplenishClient, body, asynq.Queue(QueueReplenish), asynq.MaxRetry(0)), nil
}
