package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/expopass/backend/internal/mailer"
	"github.com/expopass/backend/pkg/queue"
)

// EmailProcessor drains email jobs and hands them to the mail
// collaborator. Delivery failures go through the queue's retry/DLQ
// discipline; they never reach the request that enqueued the job.
type EmailProcessor struct {
	mail   mailer.Mailer
	queue  *queue.Queue
	logger *zap.Logger
}

// NewEmailProcessor creates an email job processor.
func NewEmailProcessor(mail mailer.Mailer, q *queue.Queue, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{mail: mail, queue: q, logger: logger}
}

// Process executes one email job.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if len(payload.Recipients) == 0 {
		p.logger.Warn("email job without recipients", zap.String("job_id", job.ID))
		return nil
	}

	_, err := p.mail.Send(ctx, mailer.Message{
		To:             payload.Recipients,
		Subject:        payload.Subject,
		Text:           payload.BodyText,
		HTML:           payload.BodyHTML,
		EmailType:      payload.EmailType,
		Role:           payload.Role,
		RegistrationID: payload.RegistrationID,
	})
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	p.logger.Info("email delivered", zap.String("job_id", job.ID), zap.String("email_type", payload.EmailType))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
