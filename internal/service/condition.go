// internal/service/condition.go
package service

import "github.com/leadpipe/sequencer-backend/internal/model"

// EvaluateCondition decides whether a step may fire, given the most recent
// sent record of the enrollment's previous step. A nil prev means no
// predecessor send exists (first step), which always satisfies the condition.
// Unrecognized condition values are treated as "always" rather than silently
// swallowing the step.
func EvaluateCondition(condition string, prev *model.EmailSendRecord) bool {
	if condition == "" || condition == model.ConditionAlways {
		return true
	}
	if prev == nil {
		return true
	}

	switch condition {
	case model.ConditionOpened:
		return prev.Opened()
	case model.ConditionNotOpened:
		return !prev.Opened()
	case model.ConditionClicked:
		return prev.Clicked()
	case model.ConditionNotClicked:
		return !prev.Clicked()
	default:
		return true
	}
}
