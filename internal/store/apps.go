package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cybershield-x/shield/internal/engine"
)

// InstalledApp represents a row in the installed_apps table.
type InstalledApp struct {
	PackageName string
	AppName     string
	Permissions []string
	IsSystemApp bool
	RiskScore   *float64 // nil until first scan
	ThreatLabel *string
	ThreatType  *string
	ScoredAt    *time.Time
	UpdatedAt   time.Time
}

// Profile returns the scoring input for the row.
func (a *InstalledApp) Profile() *engine.AppProfile {
	return &engine.AppProfile{
		PackageName: a.PackageName,
		AppName:     a.AppName,
		Permissions: a.Permissions,
		IsSystemApp: a.IsSystemApp,
	}
}

// UpsertApps replaces the inventory rows for the given profiles in one
// transaction. Existing scores are kept.
func (s *Store) UpsertApps(ctx context.Context, apps []engine.AppProfile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertApps: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, a := range apps {
		perms := a.Permissions
		if perms == nil {
			perms = []string{}
		}
		raw, err := json.Marshal(perms)
		if err != nil {
			return fmt.Errorf("UpsertApps: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO installed_apps (package_name, app_name, permissions, is_system_app)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (package_name) DO UPDATE SET
				app_name      = EXCLUDED.app_name,
				permissions   = EXCLUDED.permissions,
				is_system_app = EXCLUDED.is_system_app,
				updated_at    = now()`,
			a.PackageName, a.AppName, raw, a.IsSystemApp,
		); err != nil {
			return fmt.Errorf("UpsertApps %s: %w", a.PackageName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("UpsertApps: %w", err)
	}
	return nil
}

// GetApp returns the inventory row for pkg, or nil if not found.
func (s *Store) GetApp(ctx context.Context, pkg string) (*InstalledApp, error) {
	var (
		a     InstalledApp
		perms json.RawMessage
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT package_name, app_name, permissions, is_system_app,
		       risk_score, threat_label, threat_type, scored_at, updated_at
		FROM installed_apps WHERE package_name = $1`, pkg,
	).Scan(&a.PackageName, &a.AppName, &perms, &a.IsSystemApp,
		&a.RiskScore, &a.ThreatLabel, &a.ThreatType, &a.ScoredAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetApp: %w", err)
	}
	if err := json.Unmarshal(perms, &a.Permissions); err != nil {
		return nil, fmt.Errorf("GetApp: permissions: %w", err)
	}
	return &a, nil
}

// Packages lists every inventoried package name.
func (s *Store) Packages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT package_name FROM installed_apps ORDER BY package_name`)
	if err != nil {
		return nil, fmt.Errorf("Packages: %w", err)
	}
	defer rows.Close()

	var pkgs []string
	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, fmt.Errorf("Packages: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// ErrAppNotFound is returned by Profile for a package missing from the inventory.
var ErrAppNotFound = errors.New("app not found")

// Profile loads the scoring input for pkg.
func (s *Store) Profile(ctx context.Context, pkg string) (*engine.AppProfile, error) {
	a, err := s.GetApp(ctx, pkg)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("Profile %s: %w", pkg, ErrAppNotFound)
	}
	return a.Profile(), nil
}

// RecordScore stores the latest assessment for pkg.
func (s *Store) RecordScore(ctx context.Context, pkg string, res *engine.RiskAssessment) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE installed_apps SET
			risk_score   = $2,
			threat_label = $3,
			threat_type  = $4,
			scored_at    = now()
		WHERE package_name = $1`,
		pkg, res.Score, res.Label.String(), res.ThreatType,
	)
	if err != nil {
		return fmt.Errorf("RecordScore: %w", err)
	}
	return nil
}
