// internal/service/engagement_service.go
package service

import (
	"context"
	"fmt"
	"log"

	"github.com/leadpipe/sequencer-backend/internal/middleware"
	"github.com/leadpipe/sequencer-backend/internal/queue"
	"github.com/leadpipe/sequencer-backend/internal/repository"
)

// EngagementService applies open/click tracking events to send records and
// campaign counters. First open and first click count once; repeats are
// ignored, so replayed events are harmless.
type EngagementService struct {
	Records   repository.SendRecordRepositoryInterface
	Campaigns repository.CampaignRepositoryInterface
}

func NewEngagementService(
	records repository.SendRecordRepositoryInterface,
	campaigns repository.CampaignRepositoryInterface,
) *EngagementService {
	return &EngagementService{Records: records, Campaigns: campaigns}
}

func (s *EngagementService) Apply(ctx context.Context, ev queue.EngagementEvent) error {
	rec, err := s.Records.GetByID(ctx, ev.RecordID)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case queue.EngagementOpen:
		first, err := s.Records.MarkOpened(ctx, rec.ID, ev.At)
		if err != nil {
			return err
		}
		if first {
			if err := s.Campaigns.IncrementTotalOpened(ctx, rec.CampaignID); err != nil {
				log.Println("⚠️ failed to increment total_opened for campaign", rec.CampaignID, ":", err)
			}
			middleware.RecordEngagementEvent(queue.EngagementOpen)
		}
	case queue.EngagementClick:
		first, err := s.Records.MarkClicked(ctx, rec.ID, ev.At)
		if err != nil {
			return err
		}
		if first {
			if err := s.Campaigns.IncrementTotalClicked(ctx, rec.CampaignID); err != nil {
				log.Println("⚠️ failed to increment total_clicked for campaign", rec.CampaignID, ":", err)
			}
			middleware.RecordEngagementEvent(queue.EngagementClick)
		}
	default:
		return fmt.Errorf("unknown engagement kind: %s", ev.Kind)
	}

	return nil
}

var _ queue.EngagementApplier = (*EngagementService)(nil)
