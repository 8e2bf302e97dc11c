package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/leadpipe/sequencer-backend/internal/errors"
	"github.com/leadpipe/sequencer-backend/internal/mailer"
	"github.com/leadpipe/sequencer-backend/internal/model"
	"github.com/leadpipe/sequencer-backend/internal/repository"
	"github.com/leadpipe/sequencer-backend/internal/service"
)

// Mock enrollment repository recording every mutation.
type MockEnrollmentRepo struct {
	due      []*repository.DueEnrollment
	claimErr error
	stopErr  map[int]error

	advanced  map[int]advanceCall
	completed map[int]time.Time
	stopped   map[int]string
	released  []int
}

type advanceCall struct {
	NextStep   int
	NextSendAt time.Time
}

func newMockEnrollmentRepo(due ...*repository.DueEnrollment) *MockEnrollmentRepo {
	return &MockEnrollmentRepo{
		due:       due,
		stopErr:   map[int]error{},
		advanced:  map[int]advanceCall{},
		completed: map[int]time.Time{},
		stopped:   map[int]string{},
	}
}

func (m *MockEnrollmentRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*repository.DueEnrollment, error) {
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	if len(m.due) > limit {
		return m.due[:limit], nil
	}
	return m.due, nil
}

func (m *MockEnrollmentRepo) Advance(ctx context.Context, id, nextStep int, nextSendAt time.Time) error {
	m.advanced[id] = advanceCall{NextStep: nextStep, NextSendAt: nextSendAt}
	return nil
}

func (m *MockEnrollmentRepo) Complete(ctx context.Context, id int, at time.Time) error {
	m.completed[id] = at
	return nil
}

func (m *MockEnrollmentRepo) Stop(ctx context.Context, id int, reason string, at time.Time) error {
	if err := m.stopErr[id]; err != nil {
		return err
	}
	m.stopped[id] = reason
	return nil
}

func (m *MockEnrollmentRepo) ReleaseClaim(ctx context.Context, id int) error {
	m.released = append(m.released, id)
	return nil
}

func (m *MockEnrollmentRepo) GetByID(ctx context.Context, id int) (*model.Enrollment, error) {
	return nil, nil
}

func (m *MockEnrollmentRepo) List(ctx context.Context, f repository.EnrollmentFilter) ([]*model.Enrollment, int, error) {
	return nil, 0, nil
}

// Mock send record repository.
type MockRecordRepo struct {
	nextID  int
	created []*model.EmailSendRecord
	sent    map[int]string // record ID -> provider ID
	bounced map[int]string // record ID -> reason
	prev    map[int]*model.EmailSendRecord
}

func newMockRecordRepo() *MockRecordRepo {
	return &MockRecordRepo{
		sent:    map[int]string{},
		bounced: map[int]string{},
		prev:    map[int]*model.EmailSendRecord{},
	}
}

func (m *MockRecordRepo) Create(ctx context.Context, rec *model.EmailSendRecord) error {
	m.nextID++
	rec.ID = m.nextID
	m.created = append(m.created, rec)
	return nil
}

func (m *MockRecordRepo) MarkSent(ctx context.Context, id int, providerID string, at time.Time) error {
	m.sent[id] = providerID
	return nil
}

func (m *MockRecordRepo) MarkBounced(ctx context.Context, id int, reason string, at time.Time) error {
	m.bounced[id] = reason
	return nil
}

func (m *MockRecordRepo) MarkOpened(ctx context.Context, id int, at time.Time) (bool, error) {
	return false, nil
}

func (m *MockRecordRepo) MarkClicked(ctx context.Context, id int, at time.Time) (bool, error) {
	return false, nil
}

func (m *MockRecordRepo) GetByID(ctx context.Context, id int) (*model.EmailSendRecord, error) {
	return nil, nil
}

func (m *MockRecordRepo) LastSentBefore(ctx context.Context, enrollmentID, stepOrder int) (*model.EmailSendRecord, error) {
	return m.prev[enrollmentID], nil
}

// Mock campaign repository; only the counter matters to the engine.
type MockCampaignCounterRepo struct {
	totalSent map[int]int
}

func newMockCampaignRepo() *MockCampaignCounterRepo {
	return &MockCampaignCounterRepo{totalSent: map[int]int{}}
}

func (m *MockCampaignCounterRepo) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	return nil, nil
}

func (m *MockCampaignCounterRepo) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}

func (m *MockCampaignCounterRepo) IncrementTotalSent(ctx context.Context, campaignID int) error {
	m.totalSent[campaignID]++
	return nil
}

func (m *MockCampaignCounterRepo) IncrementTotalOpened(ctx context.Context, campaignID int) error {
	return nil
}

func (m *MockCampaignCounterRepo) IncrementTotalClicked(ctx context.Context, campaignID int) error {
	return nil
}

func (m *MockCampaignCounterRepo) GetSendStats(ctx context.Context, campaignID int) (map[string]int, error) {
	return nil, nil
}

// Mock lead repository; like the real one it reports absent leads with a
// sentinel, so an empty map makes the engine use the lead joined at claim time.
type MockLeadRepo struct {
	leads map[int]*model.Lead
}

func (m *MockLeadRepo) GetByID(ctx context.Context, id int) (*model.Lead, error) {
	if l, ok := m.leads[id]; ok {
		return l, nil
	}
	return nil, appErrors.NewLeadNotFound(id)
}

// Mock transport.
type MockTransport struct {
	failFor  map[string]error // recipient email -> error
	panicFor string           // recipient email that triggers a panic
	sent     []mailer.OutgoingEmail
}

func newMockTransport() *MockTransport {
	return &MockTransport{failFor: map[string]error{}}
}

func (m *MockTransport) Send(ctx context.Context, msg mailer.OutgoingEmail) (*mailer.SendResult, error) {
	if msg.To == m.panicFor {
		panic("transport blew up")
	}
	if err := m.failFor[msg.To]; err != nil {
		return nil, err
	}
	m.sent = append(m.sent, msg)
	return &mailer.SendResult{ProviderID: "prov-123"}, nil
}

// Fixtures.

func twoStepCampaign() model.Campaign {
	return model.Campaign{
		ID:              1,
		WorkspaceID:     1,
		Name:            "Cold outreach",
		StopOnConverted: true,
		Steps: []model.CampaignStep{
			{CampaignID: 1, StepOrder: 1, Subject: "Hi {first_name}", Content: "<p>Hello {first_name} from {sender_name}</p>", Condition: model.ConditionAlways, DelayDays: 0, DelayHours: 0},
			{CampaignID: 1, StepOrder: 2, Subject: "Bump", Content: "<p>Bump</p>", Condition: model.ConditionNotOpened, DelayDays: 3, DelayHours: 0},
		},
	}
}

func dueEnrollment(id, step int, leadStatus string, campaign model.Campaign) *repository.DueEnrollment {
	at := time.Now().Add(-time.Minute)
	return &repository.DueEnrollment{
		Enrollment: model.Enrollment{
			ID:          id,
			CampaignID:  campaign.ID,
			LeadID:      id,
			Status:      model.EnrollmentActive,
			CurrentStep: step,
			NextSendAt:  &at,
		},
		Campaign: campaign,
		Lead: model.Lead{
			ID:        id,
			Email:     fmt.Sprintf("lead%d@example.com", id),
			FirstName: "Alice",
			LastName:  "Smith",
			Company:   "Smith Logistics",
			Status:    leadStatus,
		},
		Workspace: model.Workspace{ID: 1, SenderName: "Jess", SenderEmail: "jess@acme.example.com"},
	}
}

func newSequencer(enr *MockEnrollmentRepo, rec *MockRecordRepo, camp *MockCampaignCounterRepo, tr *MockTransport) *service.SequencerService {
	svc := service.NewSequencerService(enr, rec, camp, &MockLeadRepo{}, tr)
	svc.DispatchDelay = 0
	return svc
}

// Tests.

func TestFirstStepSendAdvancesToSecondStepSchedule(t *testing.T) {
	campaign := twoStepCampaign()
	enr := newMockEnrollmentRepo(dueEnrollment(1, 1, "NEW", campaign))
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	summary, err := svc.RunPass(context.Background(), now, 100)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Errors)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, "Hi Alice", tr.sent[0].Subject)
	assert.Equal(t, "<p>Hello Alice from Jess</p>", tr.sent[0].HTML)

	require.Len(t, rec.created, 1)
	assert.Equal(t, "prov-123", rec.sent[rec.created[0].ID])
	assert.Equal(t, 1, camp.totalSent[1])

	call, ok := enr.advanced[1]
	require.True(t, ok, "enrollment should advance")
	assert.Equal(t, 2, call.NextStep)
	assert.Equal(t, now.Add(3*24*time.Hour), call.NextSendAt)
}

func TestConditionFalseSkipsWithoutSendAndCompletesWhenExhausted(t *testing.T) {
	campaign := twoStepCampaign()
	enr := newMockEnrollmentRepo(dueEnrollment(1, 2, "NEW", campaign))
	rec := newMockRecordRepo()
	openedAt := time.Now().Add(-time.Hour)
	rec.prev[1] = &model.EmailSendRecord{ID: 50, EnrollmentID: 1, StepOrder: 1, Status: model.SendStatusSent, OpenedAt: &openedAt}
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	now := time.Now().UTC()
	summary, err := svc.RunPass(context.Background(), now, 100)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 1, summary.Skipped)

	// Step 2's not_opened condition is false and no step 3 exists.
	assert.Empty(t, tr.sent)
	assert.Empty(t, rec.created, "skipped steps never create a send record")
	assert.Contains(t, enr.completed, 1)
	assert.Zero(t, camp.totalSent[1])
}

func TestConditionTrueSendsSecondStep(t *testing.T) {
	campaign := twoStepCampaign()
	enr := newMockEnrollmentRepo(dueEnrollment(1, 2, "NEW", campaign))
	rec := newMockRecordRepo()
	// Previous send exists but was never opened.
	rec.prev[1] = &model.EmailSendRecord{ID: 50, EnrollmentID: 1, StepOrder: 1, Status: model.SendStatusSent}
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "Bump", tr.sent[0].Subject)
	// Last step consumed, so the enrollment completes.
	assert.Contains(t, enr.completed, 1)
}

func TestTransportFailureKeepsEnrollmentAtSameStep(t *testing.T) {
	campaign := twoStepCampaign()
	d := dueEnrollment(1, 1, "NEW", campaign)
	enr := newMockEnrollmentRepo(d)
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	tr.failFor[d.Lead.Email] = errors.New("mailbox unavailable")
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Sent)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Errors, "a bounce is not a run error")

	// Audit record kept, marked bounced.
	require.Len(t, rec.created, 1)
	assert.Equal(t, "mailbox unavailable", rec.bounced[rec.created[0].ID])

	// No progress on failure.
	assert.Empty(t, enr.advanced)
	assert.Empty(t, enr.completed)
	assert.Zero(t, camp.totalSent[1])
	assert.Contains(t, enr.released, 1)
}

func TestUnsubscribedLeadStopsBeforeAnySend(t *testing.T) {
	campaign := twoStepCampaign()
	enr := newMockEnrollmentRepo(dueEnrollment(1, 2, model.LeadStatusUnsubscribed, campaign))
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, model.StopReasonUnsubscribed, enr.stopped[1])
	assert.Empty(t, tr.sent)
	assert.Empty(t, rec.created)
}

func TestConvertedLeadStopsWhenCampaignOptsIn(t *testing.T) {
	campaign := twoStepCampaign() // StopOnConverted: true
	enr := newMockEnrollmentRepo(dueEnrollment(1, 1, model.LeadStatusConverted, campaign))
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	_, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, model.StopReasonConverted, enr.stopped[1])
	assert.Empty(t, tr.sent)
}

func TestConvertedLeadKeepsGoingWhenCampaignDoesNotStop(t *testing.T) {
	campaign := twoStepCampaign()
	campaign.StopOnConverted = false
	enr := newMockEnrollmentRepo(dueEnrollment(1, 1, model.LeadStatusConverted, campaign))
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Empty(t, enr.stopped)
	assert.Equal(t, 1, summary.Sent)
}

func TestMissingStepCompletesEnrollment(t *testing.T) {
	campaign := twoStepCampaign()
	// Step 5 was deleted out from under the enrollment.
	enr := newMockEnrollmentRepo(dueEnrollment(1, 5, "NEW", campaign))
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Contains(t, enr.completed, 1)
	assert.Empty(t, tr.sent)
}

func TestNonContiguousStepOrdersAdvanceToNextDefined(t *testing.T) {
	campaign := model.Campaign{
		ID:          1,
		WorkspaceID: 1,
		Steps: []model.CampaignStep{
			{CampaignID: 1, StepOrder: 1, Subject: "a", Content: "a", Condition: model.ConditionAlways},
			{CampaignID: 1, StepOrder: 4, Subject: "b", Content: "b", Condition: model.ConditionAlways, DelayDays: 1, DelayHours: 6},
		},
	}
	enr := newMockEnrollmentRepo(dueEnrollment(1, 1, "NEW", campaign))
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	_, err := svc.RunPass(context.Background(), now, 100)

	require.NoError(t, err)
	call, ok := enr.advanced[1]
	require.True(t, ok)
	assert.Equal(t, 4, call.NextStep)
	assert.Equal(t, now.Add(24*time.Hour+6*time.Hour), call.NextSendAt)
}

func TestOneBrokenEnrollmentDoesNotAbortTheBatch(t *testing.T) {
	campaign := twoStepCampaign()
	a := dueEnrollment(1, 1, model.LeadStatusUnsubscribed, campaign)
	b := dueEnrollment(2, 1, "NEW", campaign)
	enr := newMockEnrollmentRepo(a, b)
	enr.stopErr[1] = errors.New("gateway timeout")
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Sent, "enrollment B still processed")
	assert.Contains(t, enr.released, 1, "failed enrollment handed back for retry")
}

func TestPanicInTransportIsContained(t *testing.T) {
	campaign := twoStepCampaign()
	a := dueEnrollment(1, 1, "NEW", campaign)
	b := dueEnrollment(2, 1, "NEW", campaign)
	enr := newMockEnrollmentRepo(a, b)
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	tr.panicFor = a.Lead.Email
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 1, summary.Sent)
}

func TestWholeRunFailureIsSurfaced(t *testing.T) {
	enr := newMockEnrollmentRepo()
	enr.claimErr = errors.New("connection refused")
	svc := newSequencer(enr, newMockRecordRepo(), newMockCampaignRepo(), newMockTransport())

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.Error(t, err)
	assert.Nil(t, summary, "nothing partial is claimed on a whole-run failure")
}

func TestBatchLimitRespected(t *testing.T) {
	campaign := twoStepCampaign()
	enr := newMockEnrollmentRepo(
		dueEnrollment(1, 1, "NEW", campaign),
		dueEnrollment(2, 1, "NEW", campaign),
		dueEnrollment(3, 1, "NEW", campaign),
	)
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 2)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
}

func TestLeadConvertedAfterClaimStillStops(t *testing.T) {
	campaign := twoStepCampaign() // StopOnConverted: true
	d := dueEnrollment(1, 1, "NEW", campaign)
	enr := newMockEnrollmentRepo(d)
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()

	svc := newSequencer(enr, rec, camp, tr)
	// The lead converted between the claim and processing.
	converted := d.Lead
	converted.Status = model.LeadStatusConverted
	svc.Leads = &MockLeadRepo{leads: map[int]*model.Lead{1: &converted}}

	_, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, model.StopReasonConverted, enr.stopped[1])
	assert.Empty(t, tr.sent)
}

func TestLeadDeletedAfterClaimFallsBackToClaimedCopy(t *testing.T) {
	campaign := twoStepCampaign()
	enr := newMockEnrollmentRepo(dueEnrollment(1, 1, "NEW", campaign))
	rec := newMockRecordRepo()
	camp := newMockCampaignRepo()
	tr := newMockTransport()
	svc := newSequencer(enr, rec, camp, tr)
	// The empty MockLeadRepo reports every lead as not found.

	summary, err := svc.RunPass(context.Background(), time.Now().UTC(), 100)

	require.NoError(t, err)
	assert.Equal(t, 1, summary.Sent)
	assert.Equal(t, 0, summary.Errors)
}
