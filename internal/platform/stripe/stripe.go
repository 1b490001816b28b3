package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	stripego "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/yungbote/dubbing-backend/internal/platform/envutil"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
)

var ErrPaymentIntentNotFound = errors.New("payment intent not found")

// PaymentIntent is the subset of a Stripe PaymentIntent a credit purchase
// needs. Metadata keys follow the checkout flow: user_id, package_id, credits.
type PaymentIntent struct {
	ID             string
	Status         string
	AmountReceived int64
	Currency       string
	UserID         string
	PackageID      string
	Credits        int64
}

func (p *PaymentIntent) Succeeded() bool {
	return p != nil && p.Status == string(stripego.PaymentIntentStatusSucceeded)
}

type Verifier interface {
	GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
}

type verifier struct {
	log *logger.Logger
	api *client.API
}

// NewVerifierFromEnv reads STRIPE_SECRET_KEY. backendURL overrides the API
// host, which is only useful against a stub server.
func NewVerifierFromEnv(log *logger.Logger) (Verifier, error) {
	return NewVerifier(log, envutil.String("STRIPE_SECRET_KEY", ""), envutil.String("STRIPE_API_BASE_URL", ""))
}

func NewVerifier(log *logger.Logger, secretKey, backendURL string) (Verifier, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, fmt.Errorf("missing STRIPE_SECRET_KEY")
	}
	var backends *stripego.Backends
	if u := strings.TrimSpace(backendURL); u != "" {
		backends = &stripego.Backends{
			API: stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
				URL:               stripego.String(u),
				MaxNetworkRetries: stripego.Int64(0),
			}),
		}
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return &verifier{log: log.With("client", "StripeVerifier"), api: api}, nil
}

func (v *verifier) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrPaymentIntentNotFound
	}
	params := &stripego.PaymentIntentParams{}
	params.Context = ctx
	pi, err := v.api.PaymentIntents.Get(id, params)
	if err != nil {
		var se *stripego.Error
		if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrPaymentIntentNotFound
		}
		return nil, fmt.Errorf("stripe get payment intent: %w", err)
	}
	return fromStripe(pi), nil
}

func fromStripe(pi *stripego.PaymentIntent) *PaymentIntent {
	out := &PaymentIntent{
		ID:             pi.ID,
		Status:         string(pi.Status),
		AmountReceived: pi.AmountReceived,
		Currency:       string(pi.Currency),
	}
	if pi.Metadata != nil {
		out.UserID = strings.TrimSpace(pi.Metadata["user_id"])
		out.PackageID = strings.TrimSpace(pi.Metadata["package_id"])
		if n, err := strconv.ParseInt(strings.TrimSpace(pi.Metadata["credits"]), 10, 64); err == nil {
			out.Credits = n
		}
	}
	return out
}
