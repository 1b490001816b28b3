package billing

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreditBalance is the single balance row per user. It is only ever mutated
// through conditional or additive UPDATEs issued by the ledger.
type CreditBalance struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Balance   int64     `gorm:"column:balance;not null;default:0" json:"balance"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updated_at"`
}

func (CreditBalance) TableName() string { return "credit_balance" }

func (b *CreditBalance) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

type TransactionKind string

const (
	TransactionDebit    TransactionKind = "debit"
	TransactionRefund   TransactionKind = "refund"
	TransactionPurchase TransactionKind = "purchase"
	TransactionGrant    TransactionKind = "grant"
)

// IsCredit reports whether the kind adds to the balance.
func (k TransactionKind) IsCredit() bool {
	switch k {
	case TransactionRefund, TransactionPurchase, TransactionGrant:
		return true
	default:
		return false
	}
}

// CreditTransaction is an append-only audit row. Amount is the magnitude of
// the change; Kind decides its sign.
type CreditTransaction struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID       uuid.UUID       `gorm:"type:uuid;not null;index:idx_credit_tx_user_created,priority:1" json:"user_id"`
	Kind         TransactionKind `gorm:"column:kind;not null;index" json:"kind"`
	Amount       int64           `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter int64           `gorm:"column:balance_after;not null" json:"balance_after"`
	Service      string          `gorm:"column:service;index" json:"service,omitempty"`
	Description  string          `gorm:"column:description" json:"description,omitempty"`
	Reference    *string         `gorm:"column:reference;uniqueIndex" json:"reference,omitempty"`
	CreatedAt    time.Time       `gorm:"not null;index:idx_credit_tx_user_created,priority:2" json:"created_at"`
}

func (CreditTransaction) TableName() string { return "credit_transaction" }

func (t *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// Delta is the signed balance change the row represents.
func (t *CreditTransaction) Delta() int64 {
	if t == nil {
		return 0
	}
	if t.Kind.IsCredit() {
		return t.Amount
	}
	return -t.Amount
}
