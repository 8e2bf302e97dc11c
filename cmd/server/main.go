// cmd/server/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/streadway/amqp"

	"github.com/leadpipe/sequencer-backend/internal/controller"
	"github.com/leadpipe/sequencer-backend/internal/db"
	"github.com/leadpipe/sequencer-backend/internal/handler"
	"github.com/leadpipe/sequencer-backend/internal/mailer"
	"github.com/leadpipe/sequencer-backend/internal/middleware"
	"github.com/leadpipe/sequencer-backend/internal/queue"
	"github.com/leadpipe/sequencer-backend/internal/repository"
	"github.com/leadpipe/sequencer-backend/internal/service"
)

func main() {
	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ No .env file found, relying on OS environment variables")
	}

	// Init DB
	db.Init()

	enrollmentRepo := &repository.EnrollmentRepository{DB: db.DB}
	campaignRepo := &repository.CampaignRepository{DB: db.DB}
	recordRepo := &repository.SendRecordRepository{DB: db.DB}
	leadRepo := &repository.LeadRepository{DB: db.DB}

	transport := buildTransport()
	q := buildQueue(recordRepo, campaignRepo)

	sequencer := service.NewSequencerService(enrollmentRepo, recordRepo, campaignRepo, leadRepo, transport)

	sequencerController := &controller.SequencerController{
		Sequencer: sequencer,
		Queue:     q,
	}

	campaignHandler := &handler.CampaignHandler{
		Campaigns:   campaignRepo,
		Enrollments: enrollmentRepo,
	}

	r := chi.NewRouter()
	r.Use(middleware.Metrics)

	// Sequencer trigger + tracking
	r.Post("/sequencer/run", sequencerController.RunSequencer)
	r.Get("/track/open/{recordID}", sequencerController.TrackOpen)
	r.Get("/track/click/{recordID}", sequencerController.TrackClick)

	// Campaign read-only views
	r.Get("/campaigns", campaignHandler.ListCampaignsHandler)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignHandler)
	r.Get("/campaigns/{id}/enrollments", campaignHandler.ListEnrollmentsHandler)

	r.Handle("/metrics", promhttp.Handler())

	// Internal trigger: run a pass on an interval so the engine works even
	// without an external scheduler hitting /sequencer/run.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runScheduled(ctx, sequencer)

	log.Println("🚀 Server running on :8080")
	log.Fatal(http.ListenAndServe(":8080", r))
}

func runScheduled(ctx context.Context, sequencer *service.SequencerService) {
	interval := time.Hour
	if v := os.Getenv("SEQUENCER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}
	batchSize := service.DefaultBatchSize
	if v := os.Getenv("SEQUENCER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			batchSize = n
		}
	}

	log.Println("🕒 Sequencer scheduler started, interval:", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("⚠️ Sequencer scheduler stopped")
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			if _, err := sequencer.RunPass(runCtx, time.Now().UTC(), batchSize); err != nil {
				log.Println("❌ Scheduled sequencer pass failed:", err)
			}
			cancel()
		}
	}
}

func buildTransport() mailer.Transport {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		log.Println("⚠️ SMTP_HOST not set, using mock transport")
		return mailer.NewMockTransport()
	}

	port := 587
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	return mailer.NewSMTPTransport(host, port, os.Getenv("SMTP_USER"), os.Getenv("SMTP_PASSWORD"))
}

func buildQueue(recordRepo *repository.SendRecordRepository, campaignRepo *repository.CampaignRepository) queue.Queue {
	amqpURL := os.Getenv("AMQP_URL")
	if amqpURL == "" {
		// No broker: apply engagement events in-process.
		q := queue.NewInMemoryQueue()
		queue.StartEngagementSubscriber(q, service.NewEngagementService(recordRepo, campaignRepo))
		return q
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ:", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("Failed to open a channel:", err)
	}
	pub, err := queue.NewAMQPPublisher(ch)
	if err != nil {
		log.Fatal("Failed to declare queue:", err)
	}
	return pub
}
