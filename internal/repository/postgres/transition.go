package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/patient-flow/internal/model"
	"github.com/jwalitptl/patient-flow/internal/repository"
)

const transitionSchema = `
    CREATE TABLE IF NOT EXISTS patient_transitions (
        id          UUID PRIMARY KEY,
        patient_id  TEXT        NOT NULL,
        from_status TEXT        NOT NULL DEFAULT '',
        to_status   TEXT        NOT NULL,
        actor       TEXT        NOT NULL DEFAULT '',
        note        TEXT        NOT NULL DEFAULT '',
        at          TIMESTAMPTZ NOT NULL
    );
    CREATE INDEX IF NOT EXISTS patient_transitions_patient_idx ON patient_transitions (patient_id, at);
`

type transitionRepository struct {
	BaseRepository
}

func NewTransitionRepository(base BaseRepository) repository.TransitionRepository {
	return &transitionRepository{base}
}

// EnsureSchema creates the journal table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, transitionSchema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

func (r *transitionRepository) Record(ctx context.Context, t *model.Transition) error {
	query := `
        INSERT INTO patient_transitions (id, patient_id, from_status, to_status, actor, note, at)
        VALUES (:id, :patient_id, :from_status, :to_status, :actor, :note, :at)
    `

	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, t); err != nil {
			return fmt.Errorf("failed to record transition: %w", err)
		}
		return nil
	})
}

func (r *transitionRepository) ListByPatient(ctx context.Context, patientID string) ([]*model.Transition, error) {
	query := `
        SELECT id, patient_id, from_status, to_status, actor, note, at
        FROM patient_transitions
        WHERE patient_id = $1
        ORDER BY at, id
    `

	var out []*model.Transition
	if err := r.db.SelectContext(ctx, &out, query, patientID); err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return out, nil
}
