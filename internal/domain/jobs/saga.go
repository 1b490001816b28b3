package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SagaStatus string

const (
	// Credits taken, nothing sent to the provider yet (or not known to have been).
	SagaDebited SagaStatus = "debited"
	// Provider accepted the job; local Job row not yet written.
	SagaSubmitted SagaStatus = "submitted"
	// Job row written. Terminal.
	SagaCompleted SagaStatus = "completed"
	// Refunded after a failed submission. Terminal.
	SagaCompensated SagaStatus = "compensated"
	// Refunded, but the provider may still be running a job we hold no row for. Terminal.
	SagaOrphaned SagaStatus = "orphaned"
)

// OpenSagaStatuses still hold credits that may need compensation.
var OpenSagaStatuses = []SagaStatus{SagaDebited, SagaSubmitted}

func (s SagaStatus) IsOpen() bool {
	return s == SagaDebited || s == SagaSubmitted
}

// SubmissionSaga is the durable record of one paid submission. It is written in
// the same DB transaction as the debit, so a crash anywhere after the debit
// leaves an open saga the sweeper can compensate.
type SubmissionSaga struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	Service       Service    `gorm:"column:service;not null" json:"service"`
	Amount        int64      `gorm:"column:amount;not null" json:"amount"`
	Status        SagaStatus `gorm:"column:status;not null;index" json:"status"`
	ExternalJobID string     `gorm:"column:external_job_id;index" json:"external_job_id,omitempty"`
	JobID         *uuid.UUID `gorm:"type:uuid;column:job_id" json:"job_id,omitempty"`
	Error         string     `gorm:"column:error" json:"error,omitempty"`
	CreatedAt     time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"not null;index" json:"updated_at"`
}

func (SubmissionSaga) TableName() string { return "submission_saga" }

func (s *SubmissionSaga) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
