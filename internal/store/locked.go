package store

import (
	"context"
	"fmt"
)

// LockedApps is the persisted lock policy. It satisfies session.PolicyStore.
type LockedApps struct {
	s *Store
}

// LockedApps returns the lock policy view of the store.
func (s *Store) LockedApps() *LockedApps {
	return &LockedApps{s: s}
}

// List returns every locked package name, sorted.
func (l *LockedApps) List(ctx context.Context) ([]string, error) {
	rows, err := l.s.db.QueryContext(ctx, `SELECT package_name FROM locked_apps ORDER BY package_name`)
	if err != nil {
		return nil, fmt.Errorf("ListLocked: %w", err)
	}
	defer rows.Close()

	var pkgs []string
	for rows.Next() {
		var pkg string
		if err := rows.Scan(&pkg); err != nil {
			return nil, fmt.Errorf("ListLocked: %w", err)
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, rows.Err()
}

// Add locks pkg. Locking an already locked package is a no-op.
func (l *LockedApps) Add(ctx context.Context, pkg string) error {
	_, err := l.s.db.ExecContext(ctx, `
		INSERT INTO locked_apps (package_name) VALUES ($1)
		ON CONFLICT (package_name) DO NOTHING`, pkg)
	if err != nil {
		return fmt.Errorf("AddLocked: %w", err)
	}
	return nil
}

// Remove unlocks pkg.
func (l *LockedApps) Remove(ctx context.Context, pkg string) error {
	if _, err := l.s.db.ExecContext(ctx, `DELETE FROM locked_apps WHERE package_name = $1`, pkg); err != nil {
		return fmt.Errorf("RemoveLocked: %w", err)
	}
	return nil
}

// RemoveAll clears the lock policy.
func (l *LockedApps) RemoveAll(ctx context.Context) error {
	if _, err := l.s.db.ExecContext(ctx, `DELETE FROM locked_apps`); err != nil {
		return fmt.Errorf("RemoveAllLocked: %w", err)
	}
	return nil
}
