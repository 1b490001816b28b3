package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/yungbote/dubbing-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	// credit_balance.balance >= 0 is enforced by the store as well as by the ledger.
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_credit_balance_non_negative') THEN
					ALTER TABLE credit_balance ADD CONSTRAINT chk_credit_balance_non_negative CHECK (balance >= 0);
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("add balance check constraint: %w", err)
		}
	}
	return nil
}
