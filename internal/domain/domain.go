package domain

import (
	"github.com/yungbote/dubbing-backend/internal/domain/billing"
	"github.com/yungbote/dubbing-backend/internal/domain/jobs"
)

type CreditBalance = billing.CreditBalance
type CreditTransaction = billing.CreditTransaction
type TransactionKind = billing.TransactionKind

type Job = jobs.Job
type JobStatus = jobs.Status
type JobService = jobs.Service
type JobParameters = jobs.Parameters
type SubmissionSaga = jobs.SubmissionSaga
type SagaStatus = jobs.SagaStatus
type OutputSource = jobs.OutputSource

const (
	JobQueued    = jobs.StatusQueued
	JobRunning   = jobs.StatusRunning
	JobSucceeded = jobs.StatusSucceeded
	JobFailed    = jobs.StatusFailed

	ServiceDubbing   = jobs.ServiceDubbing
	ServiceSubtitles = jobs.ServiceSubtitles
	ServiceClip      = jobs.ServiceClip

	OutputOwned    = jobs.OutputOwned
	OutputProvider = jobs.OutputProvider
	OutputManual   = jobs.OutputManual

	SagaDebited     = jobs.SagaDebited
	SagaSubmitted   = jobs.SagaSubmitted
	SagaCompleted   = jobs.SagaCompleted
	SagaCompensated = jobs.SagaCompensated
	SagaOrphaned    = jobs.SagaOrphaned

	TransactionDebit    = billing.TransactionDebit
	TransactionRefund   = billing.TransactionRefund
	TransactionPurchase = billing.TransactionPurchase
	TransactionGrant    = billing.TransactionGrant
)

var (
	TerminalJobStatuses = jobs.TerminalStatuses
	InFlightJobStatuses = jobs.InFlightStatuses
	OpenSagaStatuses    = jobs.OpenSagaStatuses
)

// Models lists every table owned by the service, in migration order.
func Models() []any {
	return []any{
		&billing.CreditBalance{},
		&billing.CreditTransaction{},
		&jobs.SubmissionSaga{},
		&jobs.Job{},
	}
}
