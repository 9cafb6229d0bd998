package crm

import (
	"github.com/joescharf/crm/internal/crmerr"
	"github.com/joescharf/crm/internal/models"
)

// stageTransitions lists the legal moves out of each stage: one step forward
// or one step back. Closed is terminal.
var stageTransitions = map[models.Stage]map[models.Stage]bool{
	models.StageNegotiation:   {models.StageDocumentation: true},
	models.StageDocumentation: {models.StagePayment: true, models.StageNegotiation: true},
	models.StagePayment:       {models.StageClosed: true, models.StageDocumentation: true},
	models.StageClosed:        {},
}

// CanMoveStage reports whether a deal may move from one stage to another.
func CanMoveStage(from, to models.Stage) bool {
	return stageTransitions[from][to]
}

// ValidateStageMove returns an InvalidTransition error unless from -> to is legal.
func ValidateStageMove(from, to models.Stage) error {
	const op = "move deal stage"
	switch {
	case !to.Valid():
		return crmerr.InvalidTransition(op, "unknown stage %q", to)
	case !from.Valid():
		return crmerr.InvalidTransition(op, "deal is in unknown stage %q", from)
	case from == models.StageClosed:
		return crmerr.InvalidTransition(op, "deal is closed")
	case from == to:
		return crmerr.InvalidTransition(op, "deal is already in %s", to)
	case !CanMoveStage(from, to):
		return crmerr.InvalidTransition(op, "cannot move from %s to %s", from, to)
	}
	return nil
}

// NextStage returns the stage after s, or false when s is closed or unknown.
func NextStage(s models.Stage) (models.Stage, bool) {
	i := s.Index()
	if i < 0 || i+1 >= len(models.Stages) {
		return "", false
	}
	return models.Stages[i+1], true
}

// PreviousStage returns the stage before s. Closed deals and negotiation have none.
func PreviousStage(s models.Stage) (models.Stage, bool) {
	i := s.Index()
	if i <= 0 || s == models.StageClosed {
		return "", false
	}
	return models.Stages[i-1], true
}
