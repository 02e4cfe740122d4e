// Package database owns schema setup for the queue tables: job_queue,
// dead_letter, process_tracker. Postgres gets the uuid-ossp extension;
// every dialect gets AutoMigrate followed by the partial/composite
// indexes spec §4.1/§6.1 require, same as the teacher's migration.go
// does for its CRM tables.
package database

import (
	"gorm.io/gorm"

	"github.com/talentqueue/jobqueue/internal/queue/store"
)

// Migrate runs database migrations for the queue subsystem.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error; err != nil {
			return err
		}
	}

	if err := db.AutoMigrate(
		&store.JobRecord{},
		&store.DeadLetterRecord{},
		&store.ProcessTrackerRecord{},
	); err != nil {
		return err
	}

	return createIndexes(db)
}

// createIndexes adds the indexes AutoMigrate can't express: the
// claim-path composite index ordered to match find_due's ORDER BY,
// restricted to PENDING rows since that's the only status find_due
// scans, and a partial index over in-flight jobs for the stale
// sweeper, restricted to PROCESSING rows. GORM struct tags already
// cover the single-column indexes (job_type, correlation_id,
// scheduled_for, heartbeat_at).
func createIndexes(db *gorm.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_job_queue_due ON job_queue (status, priority DESC, created_at ASC) WHERE status = 'PENDING'`,
		`CREATE INDEX IF NOT EXISTS idx_job_queue_stale ON job_queue (heartbeat_at) WHERE status = 'PROCESSING'`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
