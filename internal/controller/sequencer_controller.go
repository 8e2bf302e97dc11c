// internal/controller/sequencer_controller.go
package controller

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/leadpipe/sequencer-backend/internal/queue"
	"github.com/leadpipe/sequencer-backend/internal/service"
)

// trackingPixel is a 1x1 transparent GIF.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type SequencerController struct {
	Sequencer *service.SequencerService
	Queue     queue.Queue
}

// RunSequencer triggers one batch pass. The scheduler hits this hourly; it is
// also safe to invoke by hand since each pass only acts on enrollments
// currently due.
func (c *SequencerController) RunSequencer(w http.ResponseWriter, r *http.Request) {
	if token := os.Getenv("SEQUENCER_TOKEN"); token != "" {
		if r.Header.Get("X-Sequencer-Token") != token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var body struct {
		BatchSize int `json:"batch_size"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body) // empty body means defaults
	}

	log.Println("📩 Sequencer pass triggered")
	summary, err := c.Sequencer.RunPass(r.Context(), time.Now().UTC(), body.BatchSize)
	if err != nil {
		log.Println("❌ Sequencer pass failed:", err)
		http.Error(w, "sequencer pass failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// TrackOpen serves the open pixel and queues the engagement event.
func (c *SequencerController) TrackOpen(w http.ResponseWriter, r *http.Request) {
	recordID, err := strconv.Atoi(chi.URLParam(r, "recordID"))
	if err == nil {
		c.publish(queue.EngagementEvent{
			RecordID: recordID,
			Kind:     queue.EngagementOpen,
			At:       time.Now().UTC(),
		})
	}

	// Always serve the pixel, even for bogus IDs.
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(trackingPixel)
}

// TrackClick queues the click event and redirects to the wrapped URL.
func (c *SequencerController) TrackClick(w http.ResponseWriter, r *http.Request) {
	recordID, err := strconv.Atoi(chi.URLParam(r, "recordID"))
	if err == nil {
		c.publish(queue.EngagementEvent{
			RecordID: recordID,
			Kind:     queue.EngagementClick,
			At:       time.Now().UTC(),
		})
	}

	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (c *SequencerController) publish(ev queue.EngagementEvent) {
	if err := c.Queue.Publish(queue.EngagementTopic, ev); err != nil {
		log.Println("⚠️ failed to enqueue engagement event:", err)
	}
}
