package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/geocoder89/gearsauth/internal/domain/job"
	"github.com/geocoder89/gearsauth/internal/jobs"
	"github.com/geocoder89/gearsauth/internal/notifications"
	"github.com/geocoder89/gearsauth/internal/reqctx"
)

type fakeJobs struct {
	created []job.CreateRequest
	err     error
}

func (f *fakeJobs) Create(_ context.Context, req job.CreateRequest) (job.Job, error) {
	if f.err != nil {
		return job.Job{}, f.err
	}
	f.created = append(f.created, req)
	return job.New(req), nil
}

func TestSender_EnqueuesSendEmailJob(t *testing.T) {
	repo := &fakeJobs{}
	s := NewSender(repo, 5)

	ctx := reqctx.WithRequestID(context.Background(), "req-9")
	msg := notifications.Message{To: "root@root", Subject: "Reset Password", Body: "https://app/x"}

	if err := s.Send(ctx, msg); err != nil {
		t.Fatalf("Send error: %v", err)
	}

	if len(repo.created) != 1 {
		t.Fatalf("expected 1 job, got %d", len(repo.created))
	}

	req := repo.created[0]
	if req.Type != string(jobs.JobSendEmail) || req.MaxAttempts != 5 {
		t.Fatalf("unexpected create request: %+v", req)
	}

	decoded, err := jobs.DecodePayload(jobs.JobSendEmail, req.Payload)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p := decoded.(jobs.SendEmailPayload)
	if p.To != msg.To || p.Subject != msg.Subject || p.Body != msg.Body || p.RequestID != "req-9" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestSender_RejectsIncompleteMessage(t *testing.T) {
	repo := &fakeJobs{}

	if err := NewSender(repo, 0).Send(context.Background(), notifications.Message{Subject: "x"}); err == nil {
		t.Fatalf("expected validation error for missing recipient")
	}
	if len(repo.created) != 0 {
		t.Fatalf("nothing should be enqueued")
	}
}

func TestSender_WrapsRepoError(t *testing.T) {
	boom := errors.New("db down")
	s := NewSender(&fakeJobs{err: boom}, 0)

	err := s.Send(context.Background(), notifications.Message{To: "a@b", Subject: "s"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped repo error, got %v", err)
	}
}
