package db

import (
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&User{},
		&SubscriptionRow{},
		&PaymentLinkRow{},
	)
	if err != nil {
		return err
	}

	return tuneDialect(db)
}

func tuneDialect(db *gorm.DB) error {
	switch db.Dialector.Name() {
	case "sqlite":
		// Writers wait instead of failing with SQLITE_BUSY while the
		// scheduler and a verification overlap.
		if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
			return err
		}
		return db.Exec("PRAGMA journal_mode = WAL").Error
	case "postgres":
		// Keep the latest-link lookup an index scan on large tables.
		return db.Exec("CREATE INDEX IF NOT EXISTS idx_links_latest ON user_payment_links (user_id, plan_id, created_at DESC, id DESC)").Error
	}
	return nil
}
