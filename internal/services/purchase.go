package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/platform/stripe"
)

type PurchaseResult struct {
	PaymentIntentID string `json:"payment_intent_id"`
	PackageID       string `json:"package_id,omitempty"`
	Credits         int64  `json:"credits"`
	Balance         int64  `json:"balance"`
	AlreadyApplied  bool   `json:"already_applied"`
}

type PurchaseService interface {
	// ConfirmPurchase credits the user for a succeeded payment intent. Repeat
	// confirmations of the same intent return the current balance unchanged.
	ConfirmPurchase(ctx context.Context, userID uuid.UUID, paymentIntentID string) (*PurchaseResult, error)
}

type purchaseService struct {
	log      *logger.Logger
	payments stripe.Verifier
	ledger   LedgerService
	packages map[string]CreditPackage
}

func NewPurchaseService(baseLog *logger.Logger, payments stripe.Verifier, ledger LedgerService, table PriceTable) PurchaseService {
	return &purchaseService{
		log:      baseLog.With("service", "PurchaseService"),
		payments: payments,
		ledger:   ledger,
		packages: table.Packages,
	}
}

func (s *purchaseService) ConfirmPurchase(ctx context.Context, userID uuid.UUID, paymentIntentID string) (*PurchaseResult, error) {
	if userID == uuid.Nil {
		return nil, invalidf("missing user")
	}
	if paymentIntentID == "" {
		return nil, invalidf("payment_intent_id is required")
	}
	pi, err := s.payments.GetPaymentIntent(ctx, paymentIntentID)
	if errors.Is(err, stripe.ErrPaymentIntentNotFound) {
		return nil, invalidf("unknown payment intent")
	}
	if err != nil {
		return nil, err
	}
	if !pi.Succeeded() {
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotSucceeded, pi.Status)
	}
	if pi.UserID != userID.String() {
		s.log.Warn("payment intent owner mismatch", "payment_intent_id", pi.ID, "user_id", userID, "intent_user_id", pi.UserID)
		return nil, invalidf("payment intent does not belong to this user")
	}

	credits, err := s.creditsFor(pi)
	if err != nil {
		return nil, err
	}

	out := &PurchaseResult{PaymentIntentID: pi.ID, PackageID: pi.PackageID, Credits: credits}
	dbc := dbctx.Context{Ctx: ctx}
	res, err := s.ledger.Credit(dbc, userID, credits, types.TransactionPurchase,
		fmt.Sprintf("Purchased %d credits", credits), "stripe:"+pi.ID)
	switch {
	case errors.Is(err, ErrDuplicateReference):
		bal, berr := s.ledger.Balance(dbc, userID)
		if berr != nil {
			return nil, berr
		}
		out.Balance = bal
		out.AlreadyApplied = true
		return out, nil
	case err != nil:
		return nil, err
	}
	out.Balance = res.Balance
	s.log.Info("credit purchase applied", "user_id", userID, "payment_intent_id", pi.ID, "credits", credits)
	return out, nil
}

// creditsFor prefers the configured package over the intent's own credits
// metadata, and refuses packages that were underpaid.
func (s *purchaseService) creditsFor(pi *stripe.PaymentIntent) (int64, error) {
	if pkg, ok := s.packages[pi.PackageID]; ok && pi.PackageID != "" {
		if pkg.Currency != "" && pi.Currency != "" && pkg.Currency != pi.Currency {
			return 0, invalidf("payment currency %s does not match package %s", pi.Currency, pi.PackageID)
		}
		if pi.AmountReceived < pkg.PriceCents {
			return 0, fmt.Errorf("%w: received %d of %d", ErrPaymentNotSucceeded, pi.AmountReceived, pkg.PriceCents)
		}
		return pkg.Credits, nil
	}
	if pi.Credits > 0 {
		return pi.Credits, nil
	}
	return 0, invalidf("payment intent carries no credit package")
}
