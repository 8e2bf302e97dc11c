// internal/service/sequencer_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/leadpipe/sequencer-backend/internal/errors"
	"github.com/leadpipe/sequencer-backend/internal/mailer"
	"github.com/leadpipe/sequencer-backend/internal/middleware"
	"github.com/leadpipe/sequencer-backend/internal/model"
	"github.com/leadpipe/sequencer-backend/internal/repository"
)

const (
	DefaultBatchSize     = 100
	DefaultDispatchDelay = 200 * time.Millisecond
)

// RunSummary is what one batch pass reports back to the trigger.
type RunSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// outcome of advancing a single enrollment.
type outcome int

const (
	outcomeAdvanced outcome = iota
	outcomeSent
	outcomeSkipped
	outcomeStopped
	outcomeCompleted
	outcomeBounced
)

// SequencerService advances due enrollments through their campaign sequences.
type SequencerService struct {
	Enrollments repository.EnrollmentRepositoryInterface
	Records     repository.SendRecordRepositoryInterface
	Campaigns   repository.CampaignRepositoryInterface
	Leads       repository.LeadRepositoryInterface
	Transport   mailer.Transport

	// DispatchDelay is a courtesy pause between dispatches to avoid hammering
	// the mail transport. Zero disables it (tests).
	DispatchDelay time.Duration
}

func NewSequencerService(
	enrollments repository.EnrollmentRepositoryInterface,
	records repository.SendRecordRepositoryInterface,
	campaigns repository.CampaignRepositoryInterface,
	leads repository.LeadRepositoryInterface,
	transport mailer.Transport,
) *SequencerService {
	return &SequencerService{
		Enrollments:   enrollments,
		Records:       records,
		Campaigns:     campaigns,
		Leads:         leads,
		Transport:     transport,
		DispatchDelay: DefaultDispatchDelay,
	}
}

// RunPass claims up to batchSize due enrollments and advances each one inside
// its own failure boundary. One broken enrollment never aborts the batch; a
// failure to fetch the batch at all is a whole-run failure.
func (s *SequencerService) RunPass(ctx context.Context, now time.Time, batchSize int) (*RunSummary, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batch, err := s.Enrollments.ClaimDue(ctx, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch due enrollments: %w", err)
	}

	summary := &RunSummary{}
	for _, d := range batch {
		summary.Processed++

		out, err := s.advanceOne(ctx, now, d)
		if err != nil {
			summary.Errors++
			log.Println("⚠️ failed to process enrollment", d.Enrollment.ID, ":", err)
			// Leave the enrollment untouched for the next pass.
			if relErr := s.Enrollments.ReleaseClaim(ctx, d.Enrollment.ID); relErr != nil {
				log.Println("⚠️ failed to release claim on enrollment", d.Enrollment.ID, ":", relErr)
			}
			continue
		}

		switch out {
		case outcomeSent:
			summary.Sent++
			if s.DispatchDelay > 0 {
				time.Sleep(s.DispatchDelay)
			}
		default:
			summary.Skipped++
		}
	}

	middleware.RecordSequencerPass(summary.Processed, summary.Sent, summary.Skipped, summary.Errors)
	log.Printf("✅ Sequencer pass done: processed=%d sent=%d skipped=%d errors=%d\n",
		summary.Processed, summary.Sent, summary.Skipped, summary.Errors)
	return summary, nil
}

// advanceOne runs the per-enrollment state machine, in strict order: hard
// stops, step lookup, condition evaluation, dispatch, advancement. Panics are
// converted into errors so the orchestrator boundary holds.
func (s *SequencerService) advanceOne(ctx context.Context, now time.Time, d *repository.DueEnrollment) (out outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while advancing enrollment %d: %v", d.Enrollment.ID, r)
		}
	}()

	e := &d.Enrollment
	campaign := &d.Campaign
	lead := &d.Lead

	// The joined lead row is from claim time; stop checks want the latest
	// status, so re-read it. On a failed read the claimed copy stands in.
	if fresh, err := s.Leads.GetByID(ctx, lead.ID); err != nil {
		var notFound *appErrors.ErrLeadNotFound
		if !errors.As(err, &notFound) {
			log.Println("⚠️ failed to refresh lead", lead.ID, ":", err)
		}
	} else if fresh != nil {
		d.Lead = *fresh
	}

	// Hard stops come before everything, on every pass.
	if campaign.StopOnConverted && lead.Status == model.LeadStatusConverted {
		if err := s.Enrollments.Stop(ctx, e.ID, model.StopReasonConverted, now); err != nil {
			return 0, err
		}
		middleware.RecordEnrollmentStop(model.StopReasonConverted)
		return outcomeStopped, nil
	}
	if lead.Status == model.LeadStatusUnsubscribed {
		if err := s.Enrollments.Stop(ctx, e.ID, model.StopReasonUnsubscribed, now); err != nil {
			return 0, err
		}
		middleware.RecordEnrollmentStop(model.StopReasonUnsubscribed)
		return outcomeStopped, nil
	}

	// Sequence exhausted (final step consumed, or step deleted underneath us).
	step := campaign.StepAt(e.CurrentStep)
	if step == nil {
		if err := s.Enrollments.Complete(ctx, e.ID, now); err != nil {
			return 0, err
		}
		return outcomeCompleted, nil
	}

	// Branch condition against the previous step's send.
	if step.Condition != "" && step.Condition != model.ConditionAlways {
		prev, err := s.Records.LastSentBefore(ctx, e.ID, step.StepOrder)
		if err != nil {
			return 0, err
		}
		if !EvaluateCondition(step.Condition, prev) {
			// Skipped without sending; no send record is created.
			if _, err := s.advancePast(ctx, now, d, step); err != nil {
				return 0, err
			}
			return outcomeSkipped, nil
		}
	}

	return s.dispatch(ctx, now, d, step)
}

// dispatch renders and sends the step's mail, recording the attempt before the
// transport is invoked so a crash mid-send still leaves a pending row.
func (s *SequencerService) dispatch(ctx context.Context, now time.Time, d *repository.DueEnrollment, step *model.CampaignStep) (outcome, error) {
	e := &d.Enrollment
	vars := TemplateVars(&d.Lead, &d.Workspace)
	subject := RenderTemplate(step.Subject, vars)
	html := RenderTemplate(step.Content, vars)

	rec := &model.EmailSendRecord{
		EnrollmentID:  e.ID,
		CampaignID:    d.Campaign.ID,
		LeadID:        d.Lead.ID,
		StepOrder:     step.StepOrder,
		Status:        model.SendStatusPending,
		Subject:       subject,
		CorrelationID: uuid.New().String(),
	}
	if err := s.Records.Create(ctx, rec); err != nil {
		return 0, err
	}

	msg := mailer.OutgoingEmail{
		To:            d.Lead.Email,
		FromName:      d.Workspace.SenderName,
		FromEmail:     d.Workspace.SenderEmail,
		Subject:       subject,
		HTML:          html,
		Tags:          []string{fmt.Sprintf("campaign-%d", d.Campaign.ID), fmt.Sprintf("step-%d", step.StepOrder)},
		CorrelationID: rec.CorrelationID,
		SMTPOverride:  workspaceSMTP(&d.Workspace),
	}

	res, sendErr := s.Transport.Send(ctx, msg)
	if sendErr != nil {
		// No progress on failure: the record keeps the audit trail, the
		// enrollment stays at the same step for the next pass.
		if err := s.Records.MarkBounced(ctx, rec.ID, sendErr.Error(), now); err != nil {
			return 0, err
		}
		if err := s.Enrollments.ReleaseClaim(ctx, e.ID); err != nil {
			return 0, err
		}
		middleware.RecordEmailBounced()
		log.Println("⚠️ send bounced for enrollment", e.ID, "step", step.StepOrder, ":", sendErr)
		return outcomeBounced, nil
	}

	if err := s.Records.MarkSent(ctx, rec.ID, res.ProviderID, now); err != nil {
		return 0, err
	}
	if err := s.Campaigns.IncrementTotalSent(ctx, d.Campaign.ID); err != nil {
		// Counter drift is tolerable; the send itself succeeded.
		log.Println("⚠️ failed to increment total_sent for campaign", d.Campaign.ID, ":", err)
	}
	middleware.RecordEmailSent()

	if _, err := s.advancePast(ctx, now, d, step); err != nil {
		return 0, err
	}
	return outcomeSent, nil
}

// advancePast moves the enrollment to the next defined step after step, or
// completes it when the sequence is exhausted.
func (s *SequencerService) advancePast(ctx context.Context, now time.Time, d *repository.DueEnrollment, step *model.CampaignStep) (outcome, error) {
	next := d.Campaign.NextStepAfter(step.StepOrder)
	if next == nil {
		if err := s.Enrollments.Complete(ctx, d.Enrollment.ID, now); err != nil {
			return 0, err
		}
		return outcomeCompleted, nil
	}
	if err := s.Enrollments.Advance(ctx, d.Enrollment.ID, next.StepOrder, NextSendAt(now, next)); err != nil {
		return 0, err
	}
	return outcomeAdvanced, nil
}

func workspaceSMTP(ws *model.Workspace) *mailer.SMTPConfig {
	if ws.SMTPHost == "" {
		return nil
	}
	return &mailer.SMTPConfig{
		Host:     ws.SMTPHost,
		Port:     ws.SMTPPort,
		User:     ws.SMTPUser,
		Password: ws.SMTPPassword,
	}
}
