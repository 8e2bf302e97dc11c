// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/leadpipe/sequencer-backend/internal/errors"
	"github.com/leadpipe/sequencer-backend/internal/model"
	"github.com/leadpipe/sequencer-backend/internal/repository"
)

// CampaignHandler serves read-only campaign and enrollment views. All
// campaign/step editing lives in the CRM app, not here.
type CampaignHandler struct {
	Campaigns   repository.CampaignRepositoryInterface
	Enrollments repository.EnrollmentRepositoryInterface
}

// CampaignDetails is a campaign plus its send-record stats.
type CampaignDetails struct {
	Campaign *model.Campaign `json:"campaign"`
	Stats    map[string]int  `json:"stats"`
}

// GetCampaignHandler returns a campaign with steps and send stats.
func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	campaign, err := h.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		var notFound *appErrors.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	stats, err := h.Campaigns.GetSendStats(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to fetch campaign stats: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CampaignDetails{Campaign: campaign, Stats: stats})
}

// ListCampaignsHandler returns a paginated list of campaigns
func (h *CampaignHandler) ListCampaignsHandler(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)
	status := r.URL.Query().Get("status")

	campaigns, total, err := h.Campaigns.ListCampaigns(r.Context(), (page-1)*pageSize, pageSize, status)
	if err != nil {
		http.Error(w, "failed to fetch campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data":       campaigns,
		"pagination": paginationMap(page, pageSize, total),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ListEnrollmentsHandler returns a campaign's enrollments, optionally filtered
// by status.
func (h *CampaignHandler) ListEnrollmentsHandler(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.Atoi(idStr)
	if err != nil {
		http.Error(w, "invalid campaign id", http.StatusBadRequest)
		return
	}

	page, pageSize := pagination(r)
	filter := repository.EnrollmentFilter{
		CampaignID: id,
		Status:     r.URL.Query().Get("status"),
		Offset:     (page - 1) * pageSize,
		Limit:      pageSize,
	}

	enrollments, total, err := h.Enrollments.List(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to fetch enrollments: "+err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"data":       enrollments,
		"pagination": paginationMap(page, pageSize, total),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func pagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && ps > 0 {
		pageSize = ps
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

func paginationMap(page, pageSize, total int) map[string]int {
	totalPages := (total + pageSize - 1) / pageSize
	return map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
}
