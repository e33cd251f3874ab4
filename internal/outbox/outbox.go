// Package outbox turns outgoing mail into durable send_email jobs that cmd/worker delivers.
package outbox

import (
	"context"
	"fmt"

	"github.com/geocoder89/gearsauth/internal/domain/job"
	"github.com/geocoder89/gearsauth/internal/jobs"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/reqctx"
)

type JobCreator interface {
	Create(ctx context.Context, req job.CreateRequest) (job.Job, error)
}

// Sender implements notifications.Sender by enqueueing instead of delivering.
type Sender struct {
	repo        JobCreator
	maxAttempts int
}

func NewSender(repo JobCreator, maxAttempts int) *Sender {
	return &Sender{repo: repo, maxAttempts: maxAttempts}
}

func (s *Sender) Send(ctx context.Context, msg notifications.Message) error {
	payload := jobs.SendEmailPayload{
		To:        msg.To,
		Subject:   msg.Subject,
		Body:      msg.Body,
		RequestID: reqctx.RequestIDFrom(ctx),
	}

	if err := jobs.ValidatePayload(jobs.JobSendEmail, payload); err != nil {
		return err
	}

	raw, err := jobs.EncodePayload(jobs.JobSendEmail, payload)
	if err != nil {
		return err
	}

	if _, err := s.repo.Create(ctx, job.CreateRequest{
		Type:        string(jobs.JobSendEmail),
		Payload:     raw,
		MaxAttempts: s.maxAttempts,
	}); err != nil {
		return fmt.Errorf("enqueue send_email: %w", err)
	}
	return nil
}
