package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ReplaceSites swaps the contents of the site address table for sites in a
// single transaction.
func (r *Repository) ReplaceSites(ctx context.Context, sites []Site) error {
	return pgx.BeginFunc(ctx, r.db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "DELETE FROM grid_xsede_addrs"); err != nil {
			return fmt.Errorf("failed to clear site addresses: %w", err)
		}

		rows := make([][]any, 0, len(sites))
		for _, s := range sites {
			rows = append(rows, []any{s.Name, s.Hosts})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"grid_xsede_addrs"},
			[]string{"sitename", "hosts"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to load site addresses: %w", err)
		}
		return nil
	})
}

// ListSites returns the site address table ordered by site name.
func (r *Repository) ListSites(ctx context.Context) ([]Site, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT sitename, hosts FROM grid_xsede_addrs ORDER BY sitename")
	if err != nil {
		return nil, fmt.Errorf("failed to query site addresses: %w", err)
	}
	defer rows.Close()

	var sites []Site
	for rows.Next() {
		var s Site
		if err := rows.Scan(&s.Name, &s.Hosts); err != nil {
			return nil, fmt.Errorf("failed to scan site address: %w", err)
		}
		sites = append(sites, s)
	}
	return sites, rows.Err()
}
