package controller_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadpipe/sequencer-backend/internal/controller"
	"github.com/leadpipe/sequencer-backend/internal/model"
	"github.com/leadpipe/sequencer-backend/internal/queue"
	"github.com/leadpipe/sequencer-backend/internal/repository"
	"github.com/leadpipe/sequencer-backend/internal/service"
)

// Empty-batch stubs so RunPass has something to run against.
type emptyEnrollmentRepo struct{}

func (emptyEnrollmentRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*repository.DueEnrollment, error) {
	return []*repository.DueEnrollment{}, nil
}
func (emptyEnrollmentRepo) Advance(ctx context.Context, id, nextStep int, nextSendAt time.Time) error {
	return nil
}
func (emptyEnrollmentRepo) Complete(ctx context.Context, id int, at time.Time) error     { return nil }
func (emptyEnrollmentRepo) Stop(ctx context.Context, id int, r string, at time.Time) error { return nil }
func (emptyEnrollmentRepo) ReleaseClaim(ctx context.Context, id int) error               { return nil }
func (emptyEnrollmentRepo) GetByID(ctx context.Context, id int) (*model.Enrollment, error) {
	return nil, nil
}
func (emptyEnrollmentRepo) List(ctx context.Context, f repository.EnrollmentFilter) ([]*model.Enrollment, int, error) {
	return nil, 0, nil
}

type noopRecordRepo struct{}

func (noopRecordRepo) Create(ctx context.Context, rec *model.EmailSendRecord) error { return nil }
func (noopRecordRepo) MarkSent(ctx context.Context, id int, p string, at time.Time) error {
	return nil
}
func (noopRecordRepo) MarkBounced(ctx context.Context, id int, r string, at time.Time) error {
	return nil
}
func (noopRecordRepo) MarkOpened(ctx context.Context, id int, at time.Time) (bool, error) {
	return false, nil
}
func (noopRecordRepo) MarkClicked(ctx context.Context, id int, at time.Time) (bool, error) {
	return false, nil
}
func (noopRecordRepo) GetByID(ctx context.Context, id int) (*model.EmailSendRecord, error) {
	return nil, nil
}
func (noopRecordRepo) LastSentBefore(ctx context.Context, e, s int) (*model.EmailSendRecord, error) {
	return nil, nil
}

type noopLeadRepo struct{}

func (noopLeadRepo) GetByID(ctx context.Context, id int) (*model.Lead, error) { return nil, nil }

type noopCampaignRepo struct{}

func (noopCampaignRepo) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	return nil, nil
}
func (noopCampaignRepo) ListCampaigns(ctx context.Context, o, l int, s string) ([]*model.Campaign, int, error) {
	return nil, 0, nil
}
func (noopCampaignRepo) IncrementTotalSent(ctx context.Context, id int) error    { return nil }
func (noopCampaignRepo) IncrementTotalOpened(ctx context.Context, id int) error  { return nil }
func (noopCampaignRepo) IncrementTotalClicked(ctx context.Context, id int) error { return nil }
func (noopCampaignRepo) GetSendStats(ctx context.Context, id int) (map[string]int, error) {
	return nil, nil
}

func newTestController(t *testing.T) (*controller.SequencerController, *queue.InMemoryQueue) {
	t.Helper()
	seq := service.NewSequencerService(emptyEnrollmentRepo{}, noopRecordRepo{}, noopCampaignRepo{}, noopLeadRepo{}, nil)
	seq.DispatchDelay = 0
	q := queue.NewInMemoryQueue()
	return &controller.SequencerController{Sequencer: seq, Queue: q}, q
}

func newRouter(c *controller.SequencerController) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/sequencer/run", c.RunSequencer)
	r.Get("/track/open/{recordID}", c.TrackOpen)
	r.Get("/track/click/{recordID}", c.TrackClick)
	return r
}

func TestRunSequencerReturnsSummary(t *testing.T) {
	c, _ := newTestController(t)
	r := newRouter(c)

	req := httptest.NewRequest(http.MethodPost, "/sequencer/run", strings.NewReader(`{"batch_size": 10}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"processed":0,"sent":0,"skipped":0,"errors":0}`, w.Body.String())
}

func TestRunSequencerRejectsBadToken(t *testing.T) {
	t.Setenv("SEQUENCER_TOKEN", "s3cret")
	c, _ := newTestController(t)
	r := newRouter(c)

	req := httptest.NewRequest(http.MethodPost, "/sequencer/run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/sequencer/run", nil)
	req.Header.Set("X-Sequencer-Token", "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTrackOpenServesPixelAndPublishes(t *testing.T) {
	c, q := newTestController(t)
	r := newRouter(c)

	var mu sync.Mutex
	var events []queue.EngagementEvent
	done := make(chan struct{})
	require.NoError(t, q.Subscribe(queue.EngagementTopic, func(payload any) error {
		mu.Lock()
		events = append(events, payload.(queue.EngagementEvent))
		mu.Unlock()
		close(done)
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/track/open/42", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event never published")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, 42, events[0].RecordID)
	assert.Equal(t, queue.EngagementOpen, events[0].Kind)
}

func TestTrackClickRedirects(t *testing.T) {
	c, q := newTestController(t)
	r := newRouter(c)

	_ = q.Subscribe(queue.EngagementTopic, func(payload any) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/track/click/42?url=https%3A%2F%2Fexample.com%2Fpricing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.com/pricing", w.Header().Get("Location"))
}

func TestTrackClickMissingURL(t *testing.T) {
	c, q := newTestController(t)
	r := newRouter(c)
	_ = q.Subscribe(queue.EngagementTopic, func(payload any) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/track/click/42", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
