package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/jobs/worker"
	"github.com/yungbote/dubbing-backend/internal/observability"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/services"
)

type Services struct {
	Auth        services.AuthService
	Notifier    services.JobNotifier
	Pricer      *services.Pricer
	Ledger      services.LedgerService
	Sagas       services.SagaService
	Reconciler  services.ReconcilerService
	Submissions services.SubmissionService
	Jobs        services.JobService
	// Purchases is nil when Stripe is not configured.
	Purchases services.PurchaseService

	ReconcileLoop *worker.ReconcileLoop
	SagaSweeper   *worker.SagaSweeper
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients, metrics *observability.Metrics) (Services, error) {
	log.Info("Wiring services...")

	auth, err := services.NewAuthService(log, cfg.JWTSecretKey, cfg.JWTIssuer, cfg.AccessTokenTTL)
	if err != nil {
		return Services{}, fmt.Errorf("init auth: %w", err)
	}

	table, err := services.LoadPriceTable(cfg.PricingConfigPath)
	if err != nil {
		return Services{}, fmt.Errorf("load price table: %w", err)
	}
	pricer := services.NewPricer(table)

	notify := services.NewJobNotifier(clients.Bus, log)
	ledger := services.NewLedgerService(db, log, repos.CreditBalance, repos.CreditTransaction, notify, metrics)
	sagas := services.NewSagaService(db, log, repos.SubmissionSaga, repos.Job, ledger, notify, metrics)

	reconciler := services.NewReconcilerService(log, repos.Job, clients.Sieve, clients.Artifacts, notify, metrics, clients.RefreshLock, cfg.Reconciler)
	loop := worker.NewReconcileLoop(log, reconciler, metrics, cfg.Worker)
	submissions := services.NewSubmissionService(db, log, pricer, sagas, repos.Job, clients.Sieve, notify, loop, metrics, cfg.SubmitTimeout)

	out := Services{
		Auth:          auth,
		Notifier:      notify,
		Pricer:        pricer,
		Ledger:        ledger,
		Sagas:         sagas,
		Reconciler:    reconciler,
		Submissions:   submissions,
		Jobs:          services.NewJobService(log, repos.Job),
		ReconcileLoop: loop,
		SagaSweeper:   worker.NewSagaSweeper(log, sagas, metrics, cfg.Worker),
	}
	if clients.Payments != nil {
		out.Purchases = services.NewPurchaseService(log, clients.Payments, ledger, table)
	}
	return out, nil
}
