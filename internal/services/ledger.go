package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/data/repos"
	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

// TransactionResult is the audit row written by a ledger call and the
// balance it left behind.
type TransactionResult struct {
	Transaction *types.CreditTransaction `json:"transaction"`
	Balance     int64                    `json:"balance"`
}

type LedgerService interface {
	// Debit removes amount from the user's balance, or fails with
	// ErrInsufficientCredits leaving balance and history untouched.
	Debit(dbc dbctx.Context, userID uuid.UUID, amount int64, service string, description string) (*TransactionResult, error)
	// Credit adds amount. A non-empty reference is applied at most once.
	Credit(dbc dbctx.Context, userID uuid.UUID, amount int64, kind types.TransactionKind, description string, reference string) (*TransactionResult, error)
	Balance(dbc dbctx.Context, userID uuid.UUID) (int64, error)
	ListTransactions(dbc dbctx.Context, userID uuid.UUID, limit int, before *time.Time) ([]*types.CreditTransaction, error)
}

type ledgerService struct {
	db       *gorm.DB
	log      *logger.Logger
	balances repos.CreditBalanceRepo
	txns     repos.CreditTransactionRepo
	notify   JobNotifier
	metrics  *observability.Metrics
}

func NewLedgerService(
	db *gorm.DB,
	baseLog *logger.Logger,
	balances repos.CreditBalanceRepo,
	txns repos.CreditTransactionRepo,
	notify JobNotifier,
	metrics *observability.Metrics,
) LedgerService {
	return &ledgerService{
		db:       db,
		log:      baseLog.With("service", "LedgerService"),
		balances: balances,
		txns:     txns,
		notify:   notify,
		metrics:  metrics,
	}
}

// inTx runs fn inside the caller's transaction when there is one, otherwise in
// a new one. Balance change notifications fire only for transactions the
// ledger committed itself.
func (s *ledgerService) inTx(dbc dbctx.Context, fn func(dbc dbctx.Context) (*TransactionResult, error)) (*TransactionResult, error) {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	var res *TransactionResult
	err := s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = fn(dbc.WithTx(tx))
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.notify != nil && res != nil && res.Transaction != nil {
		s.notify.BalanceChanged(dbc.Ctx, res.Transaction.UserID, res.Balance)
	}
	return res, nil
}

func (s *ledgerService) Debit(dbc dbctx.Context, userID uuid.UUID, amount int64, service string, description string) (*TransactionResult, error) {
	if userID == uuid.Nil {
		return nil, invalidf("missing user")
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	res, err := s.inTx(dbc, func(dbc dbctx.Context) (*TransactionResult, error) {
		if err := s.balances.EnsureRow(dbc, userID); err != nil {
			return nil, fmt.Errorf("ensure balance row: %w", err)
		}
		ok, err := s.balances.DecrementIfSufficient(dbc, userID, amount)
		if err != nil {
			return nil, fmt.Errorf("decrement balance: %w", err)
		}
		if !ok {
			return nil, ErrInsufficientCredits
		}
		return s.record(dbc, userID, types.TransactionDebit, amount, service, description, nil)
	})
	switch {
	case errors.Is(err, ErrInsufficientCredits):
		s.metrics.IncLedger("debit", "insufficient")
		return nil, err
	case err != nil:
		s.metrics.IncLedger("debit", "error")
		s.log.Error("debit failed", "user_id", userID, "amount", amount, "error", err)
		return nil, err
	}
	s.metrics.IncLedger("debit", "ok")
	return res, nil
}

func (s *ledgerService) Credit(dbc dbctx.Context, userID uuid.UUID, amount int64, kind types.TransactionKind, description string, reference string) (*TransactionResult, error) {
	if userID == uuid.Nil {
		return nil, invalidf("missing user")
	}
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	if !kind.IsCredit() {
		return nil, invalidf("%q is not a credit kind", kind)
	}
	reference = strings.TrimSpace(reference)
	var ref *string
	if reference != "" {
		ref = &reference
	}
	op := string(kind)

	res, err := s.inTx(dbc, func(dbc dbctx.Context) (*TransactionResult, error) {
		if ref != nil {
			existing, err := s.txns.GetByReference(dbc, reference)
			if err != nil {
				return nil, fmt.Errorf("lookup reference: %w", err)
			}
			if existing != nil {
				return nil, ErrDuplicateReference
			}
		}
		if err := s.balances.EnsureRow(dbc, userID); err != nil {
			return nil, fmt.Errorf("ensure balance row: %w", err)
		}
		if err := s.balances.Increment(dbc, userID, amount); err != nil {
			return nil, fmt.Errorf("increment balance: %w", err)
		}
		return s.record(dbc, userID, kind, amount, "", description, ref)
	})
	if err != nil && isUniqueViolation(err) {
		err = ErrDuplicateReference
	}
	switch {
	case errors.Is(err, ErrDuplicateReference):
		s.metrics.IncLedger(op, "duplicate")
		return nil, err
	case err != nil:
		s.metrics.IncLedger(op, "error")
		s.log.Error("credit failed", "user_id", userID, "amount", amount, "kind", kind, "error", err)
		return nil, err
	}
	s.metrics.IncLedger(op, "ok")
	return res, nil
}

// record appends the audit row using the balance as it stands inside the
// current transaction.
func (s *ledgerService) record(dbc dbctx.Context, userID uuid.UUID, kind types.TransactionKind, amount int64, service, description string, ref *string) (*TransactionResult, error) {
	row, err := s.balances.Get(dbc, userID)
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("balance row missing for %s", userID)
	}
	txn := &types.CreditTransaction{
		UserID:       userID,
		Kind:         kind,
		Amount:       amount,
		BalanceAfter: row.Balance,
		Service:      strings.TrimSpace(service),
		Description:  strings.TrimSpace(description),
		Reference:    ref,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.txns.Create(dbc, txn); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return &TransactionResult{Transaction: txn, Balance: row.Balance}, nil
}

func (s *ledgerService) Balance(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	row, err := s.balances.Get(dbc, userID)
	if err != nil {
		return 0, err
	}
	if row == nil {
		return 0, nil
	}
	return row.Balance, nil
}

func (s *ledgerService) ListTransactions(dbc dbctx.Context, userID uuid.UUID, limit int, before *time.Time) ([]*types.CreditTransaction, error) {
	return s.txns.ListByUser(dbc, userID, limit, before)
}
