package model

import (
	"time"

	"github.com/google/uuid"
)

// Transition is one confirmed status change, kept for the audit journal.
type Transition struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID string    `db:"patient_id" json:"patient_id"`
	From      Status    `db:"from_status" json:"from"`
	To        Status    `db:"to_status" json:"to"`
	Actor     string    `db:"actor" json:"actor,omitempty"`
	Note      string    `db:"note" json:"note,omitempty"`
	At        time.Time `db:"at" json:"at"`
}

// User is the authenticated desk operator.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Requests accepted by the attendance service. Validation tags are checked
// with go-playground/validator.

type RegistrationRequest struct {
	Name      string `json:"name" validate:"required"`
	BirthDate string `json:"birth_date"`
	Document  string `json:"document" validate:"required"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	ZipCode   string `json:"zip_code"`
}

type TriageRequest struct {
	Complaint string `json:"complaint" validate:"required"`
	// Priority overrides the classifier when set.
	Priority  string `json:"priority"`
	Vitals    Vitals `json:"vitals"`
	Allergies string `json:"allergies"`
	Notes     string `json:"notes"`
}

type ConclusionRequest struct {
	Symptoms     string `json:"symptoms" validate:"required_without=Diagnosis"`
	Diagnosis    string `json:"diagnosis" validate:"required_without=Symptoms"`
	Kind         string `json:"kind"`
	Prescription string `json:"prescription"`
	Notes        string `json:"notes"`
}

type LookupRequest struct {
	Document string `json:"document" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}
