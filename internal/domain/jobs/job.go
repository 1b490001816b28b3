package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// TerminalStatuses are absorbing.
var TerminalStatuses = []Status{StatusSucceeded, StatusFailed}

// InFlightStatuses are the statuses the reconciler polls.
var InFlightStatuses = []Status{StatusQueued, StatusRunning}

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusRunning:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
// Re-applying the same status is not an advance.
func (s Status) CanAdvanceTo(next Status) bool {
	if !next.Valid() || s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

type Service string

const (
	ServiceDubbing   Service = "dubbing"
	ServiceSubtitles Service = "subtitles"
	ServiceClip      Service = "clip_generation"
)

func (s Service) Valid() bool {
	switch s {
	case ServiceDubbing, ServiceSubtitles, ServiceClip:
		return true
	default:
		return false
	}
}

// OutputSource records where a job's output URL came from.
type OutputSource string

const (
	OutputOwned    OutputSource = "owned"
	OutputProvider OutputSource = "provider"
	OutputManual   OutputSource = "manual"
)

// Parameters are the processing options the job was submitted with.
type Parameters struct {
	SourceURL       string            `json:"source_url"`
	DurationSeconds float64           `json:"duration_seconds"`
	VoiceClone      bool              `json:"voice_clone"`
	VoicePreference string            `json:"voice_preference,omitempty"`
	LipSync         bool              `json:"lip_sync"`
	StartSeconds    *float64          `json:"start_seconds,omitempty"`
	EndSeconds      *float64          `json:"end_seconds,omitempty"`
	Dictionary      map[string]string `json:"dictionary,omitempty"`
	Prompt          string            `json:"prompt,omitempty"`
}

type Job struct {
	ID            uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerUserID   uuid.UUID                      `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	ExternalJobID string                         `gorm:"column:external_job_id;not null;index" json:"external_job_id"`
	Service       Service                        `gorm:"column:service;not null;index" json:"service"`
	Status        Status                         `gorm:"column:status;not null;index" json:"status"`
	OutputURL     *string                        `gorm:"column:output_url" json:"output_url,omitempty"`
	OutputSource  OutputSource                   `gorm:"column:output_source" json:"output_source,omitempty"`
	Error         *string                        `gorm:"column:error" json:"error,omitempty"`
	Languages     datatypes.JSONSlice[string]    `gorm:"column:languages" json:"languages"`
	Parameters    datatypes.JSONType[Parameters] `gorm:"column:parameters" json:"parameters"`
	Cost          int64                          `gorm:"column:cost;not null" json:"cost"`
	SagaID        *uuid.UUID                     `gorm:"type:uuid;column:saga_id;index" json:"saga_id,omitempty"`
	CompletedAt   *time.Time                     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt     time.Time                      `gorm:"not null;index" json:"created_at"`
	UpdatedAt     time.Time                      `gorm:"not null;index" json:"updated_at"`
}

func (Job) TableName() string { return "dubbing_job" }

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}

func (j *Job) HasOutput() bool {
	return j != nil && j.OutputURL != nil && *j.OutputURL != ""
}

// InFlight is true while the reconciler still needs to ask the provider about the job.
func (j *Job) InFlight() bool {
	return j != nil && !j.Status.IsTerminal() && !j.HasOutput()
}
