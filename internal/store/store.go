// Package store persists committed telemetry snapshots to a local SQLite
// database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"solarpi/internal/telemetry"
)

const schema = `
CREATE TABLE IF NOT EXISTS solar (
	timestamp                      INTEGER PRIMARY KEY,
	battery_voltage                REAL,
	battery_current                REAL,
	battery_is_charging            INTEGER,
	battery_ah                     REAL,
	battery_temp                   REAL,
	battery_total_charge_energy    REAL,
	battery_total_discharge_energy REAL,
	solar_panel_voltage            REAL,
	charger_voltage                REAL,
	charger_current                REAL,
	charger_temp                   REAL,
	charger_total_energy           REAL,
	charger_status                 INTEGER,
	room_temp                      REAL
)`

const insertStmt = `
INSERT OR IGNORE INTO solar (
	timestamp,
	battery_voltage, battery_current, battery_is_charging, battery_ah,
	battery_temp, battery_total_charge_energy, battery_total_discharge_energy,
	solar_panel_voltage, charger_voltage, charger_current, charger_temp,
	charger_total_energy, charger_status, room_temp
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store writes one row per committed snapshot, keyed by the reading
// timestamp. Snapshots within the same second collapse to a single row.
type Store struct {
	db            *sql.DB
	logger        *logrus.Logger
	retentionDays int
	cron          *cron.Cron

	now func() time.Time
}

// Open opens (creating if needed) the database at path. A positive
// retentionDays starts a daily job pruning rows older than that many days;
// zero keeps everything.
func Open(path string, retentionDays int, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{
		db:            db,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
	if retentionDays > 0 {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc("@daily", s.prune); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to schedule retention job: %w", err)
		}
		s.cron.Start()
	}
	return s, nil
}

// ReadingCommitted inserts one snapshot row.
func (s *Store) ReadingCommitted(ctx context.Context, snap telemetry.Snapshot) error {
	_, err := s.db.ExecContext(ctx, insertStmt,
		snap.Timestamp,
		snap.BatteryVoltage,
		snap.BatteryCurrent,
		snap.BatteryCharging,
		snap.BatteryRemainingAh,
		snap.BatteryTemp,
		snap.BatteryTotalChargeEnergy,
		snap.BatteryTotalDischargeEnergy,
		snap.PanelVoltage,
		snap.ChargerVoltage,
		snap.ChargerCurrent,
		snap.ChargerTemp,
		snap.ChargerTotalEnergy,
		snap.ChargerStatus,
		snap.RoomTemp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// CountRows returns the number of stored readings.
func (s *Store) CountRows(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM solar`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

// prune deletes rows past the retention horizon.
func (s *Store) prune() {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays).Unix()
	res, err := s.db.Exec(`DELETE FROM solar WHERE timestamp < ?`, cutoff)
	if err != nil {
		s.logger.WithError(err).Error("Retention prune failed")
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.WithFields(logrus.Fields{"rows": n, "days": s.retentionDays}).Info("Pruned old readings")
	}
}

// Close stops the retention job and closes the database.
func (s *Store) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.db.Close()
}
