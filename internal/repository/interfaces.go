package repository

import (
	"context"

	"github.com/jwalitptl/patient-flow/internal/model"
)

type (
	// TransitionRepository is the audit journal of confirmed status changes.
	TransitionRepository interface {
		Record(ctx context.Context, t *model.Transition) error
		ListByPatient(ctx context.Context, patientID string) ([]*model.Transition, error)
	}
)
