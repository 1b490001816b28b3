package app

import (
	"context"

	"gorm.io/gorm"

	httpH "github.com/yungbote/dubbing-backend/internal/http/handlers"
	"github.com/yungbote/dubbing-backend/internal/platform/logger"
	"github.com/yungbote/dubbing-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Credit   *httpH.CreditHandler
	Job      *httpH.JobHandler
	Admin    *httpH.AdminHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, db *gorm.DB, services Services, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(dbPinger(db)),
		Credit:   httpH.NewCreditHandler(services.Ledger, services.Purchases),
		Job:      httpH.NewJobHandler(services.Jobs, services.Submissions, services.Reconciler),
		Admin:    httpH.NewAdminHandler(log, services.Reconciler, services.Ledger),
		Realtime: httpH.NewRealtimeHandler(log, hub),
	}
}

func dbPinger(db *gorm.DB) httpH.Pinger {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
