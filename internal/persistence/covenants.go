package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Covenant is one registered covenant version: the set of scope names
// permitted while it is current. Immutable once activated.
type Covenant struct {
	Version   string    `json:"version"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivateCovenant registers a new covenant version. Versions are totally
// ordered by activation; re-registering an existing version fails with
// ErrDuplicateVersion. The existence check and insert share one
// transaction so concurrent activations cannot both claim a version.
func (s *Store) ActivateCovenant(ctx context.Context, version string, scopes []string) error {
	if version == "" {
		return fmt.Errorf("activate covenant: empty version")
	}
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return fmt.Errorf("marshal covenant scopes: %w", err)
	}

	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin activate tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM covenants WHERE version = ?;`, version).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateVersion, version)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check covenant version: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO covenants (version, scopes_json, created_at)
			VALUES (?, ?, CURRENT_TIMESTAMP);
		`, version, string(scopesJSON)); err != nil {
			return fmt.Errorf("insert covenant: %w", err)
		}
		return tx.Commit()
	})
}

// CurrentCovenantVersion returns the most recently activated version.
// ok is false when no covenant has ever been activated.
func (s *Store) CurrentCovenantVersion(ctx context.Context) (version string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT version FROM covenants ORDER BY seq DESC LIMIT 1;
	`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("current covenant version: %w", err)
	}
	return version, true, nil
}

// GetCovenant returns the named covenant version. Fails with
// ErrUnknownVersion when the version was never registered; there is no
// fallback to the current version.
func (s *Store) GetCovenant(ctx context.Context, version string) (Covenant, error) {
	var c Covenant
	var scopesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT version, scopes_json, created_at FROM covenants WHERE version = ?;
	`, version).Scan(&c.Version, &scopesJSON, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Covenant{}, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	if err != nil {
		return Covenant{}, fmt.Errorf("get covenant: %w", err)
	}
	if err := json.Unmarshal([]byte(scopesJSON), &c.Scopes); err != nil {
		return Covenant{}, fmt.Errorf("decode covenant scopes: %w", err)
	}
	return c, nil
}

// IsScopeAllowed is a pure lookup against the named version's scope set.
func (s *Store) IsScopeAllowed(ctx context.Context, version, scope string) (bool, error) {
	c, err := s.GetCovenant(ctx, version)
	if err != nil {
		return false, err
	}
	for _, name := range c.Scopes {
		if name == scope {
			return true, nil
		}
	}
	return false, nil
}

// ListCovenants returns all registered versions, oldest first.
func (s *Store) ListCovenants(ctx context.Context) ([]Covenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, scopes_json, created_at FROM covenants ORDER BY seq ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list covenants: %w", err)
	}
	defer rows.Close()

	var out []Covenant
	for rows.Next() {
		var c Covenant
		var scopesJSON string
		if err := rows.Scan(&c.Version, &scopesJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan covenant: %w", err)
		}
		if err := json.Unmarshal([]byte(scopesJSON), &c.Scopes); err != nil {
			return nil, fmt.Errorf("decode covenant scopes: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("covenant rows: %w", err)
	}
	return out, nil
}
