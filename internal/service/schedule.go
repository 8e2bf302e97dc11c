// internal/service/schedule.go
package service

import (
	"time"

	"github.com/leadpipe/sequencer-backend/internal/model"
)

// NextSendAt computes when a step should fire, relative to the moment the
// enrollment advances into it. Delays chain from processing time, never from
// campaign start. 0d0h means the next due pass picks it up.
func NextSendAt(now time.Time, step *model.CampaignStep) time.Time {
	return now.
		Add(time.Duration(step.DelayDays) * 24 * time.Hour).
		Add(time.Duration(step.DelayHours) * time.Hour)
}
