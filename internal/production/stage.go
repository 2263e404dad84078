package production

import (
	"fmt"
	"strings"

	"github.com/stitchline/stitchline/internal/shared"
)

var forwardStages = []Stage{StageArt, StageApproved, StagePrint, StageCure, StagePack, StageShip, StageComplete}

// ParseStage normalises a stage name.
func ParseStage(raw string) (Stage, bool) {
	s := Stage(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.IsValid()
}

// IsValid reports whether s is a known stage.
func (s Stage) IsValid() bool {
	return s == StageHold || s == StageCancelled || forwardIndex(s) >= 0
}

// IsTerminal reports whether no transition may leave s.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageCancelled
}

func forwardIndex(s Stage) int {
	for i, f := range forwardStages {
		if f == s {
			return i
		}
	}
	return -1
}

// NextStage returns the stage after s in the forward sequence.
func NextStage(s Stage) (Stage, bool) {
	i := forwardIndex(s)
	if i < 0 || i == len(forwardStages)-1 {
		return "", false
	}
	return forwardStages[i+1], true
}

// AllowedTargets lists every legal destination from s.
func AllowedTargets(s Stage) []Stage {
	switch {
	case s.IsTerminal():
		return nil
	case s == StageHold:
		// Resuming may jump to any forward stage, not only the one held from.
		out := make([]Stage, 0, len(forwardStages)+1)
		out = append(out, forwardStages...)
		return append(out, StageCancelled)
	}
	next, ok := NextStage(s)
	if !ok {
		return nil
	}
	return []Stage{next, StageHold, StageCancelled}
}

// ValidateTransition returns ErrInvalidTransition unless from -> to is legal.
func ValidateTransition(from, to Stage) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidTransition, to)
	}
	if from.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	for _, allowed := range AllowedTargets(from) {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// EventTypeFor maps a target stage to the event recorded for it.
func EventTypeFor(to Stage) EventType {
	switch to {
	case StageShip:
		return EventShipped
	case StageComplete:
		return EventCompleted
	case StageHold:
		return EventHold
	case StageCancelled:
		return EventCancelled
	default:
		return EventStageChanged
	}
}

// TargetForAction translates a scan verb into a stage given the batch's current stage.
func TargetForAction(current Stage, action ScanAction) (Stage, error) {
	switch ScanAction(strings.ToLower(string(action))) {
	case ScanAdvance:
		next, ok := NextStage(current)
		if !ok {
			return "", fmt.Errorf("%w: no stage after %s", ErrInvalidTransition, current)
		}
		return next, nil
	case ScanHold:
		return StageHold, nil
	case ScanCancel:
		return StageCancelled, nil
	case ScanShip:
		return StageShip, nil
	case ScanComplete:
		return StageComplete, nil
	default:
		return "", fmt.Errorf("production: unknown scan action %q: %w", action, shared.ErrValidation)
	}
}
