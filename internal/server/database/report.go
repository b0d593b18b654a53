package database

import (
	"context"
	"time"

	"gridxfer/internal/core"

	"github.com/jackc/pgx/v5"
)

const quarterlyDescription = "XSEDE quarterly stats"

// The per-site aggregates run against grid_transfers_cache, a temporary
// snapshot of the quarter's transfers, joined to the site address table on
// overlapping address sets.
const (
	siteTransfersSQL = `
		SELECT a.sitename AS site, count(*) AS transfers
		FROM grid_transfers_cache t, grid_xsede_addrs a
		WHERE t.dest_hosts && a.hosts
		GROUP BY a.sitename
		ORDER BY a.sitename ASC
	`
	siteVolumeSQL = `
		SELECT a.sitename AS site, sum(t.bytes)::float8 / 2^40 AS tb_transferred
		FROM grid_transfers_cache t, grid_xsede_addrs a
		WHERE t.dest_hosts && a.hosts
		GROUP BY a.sitename
		ORDER BY a.sitename ASC
	`
	// Mean of per-transfer rates. Transfers that end at or before their
	// start have no meaningful rate and are left out.
	siteThroughputSQL = `
		SELECT a.sitename AS site,
			avg((t.bytes / 2^20) / extract(epoch FROM t.end_time - t.start_time)::float8) AS avg_mbyte_sec
		FROM grid_transfers_cache t, grid_xsede_addrs a
		WHERE t.dest_hosts && a.hosts
			AND t.end_time > t.start_time
			AND t.bytes > $1
		GROUP BY a.sitename
		ORDER BY a.sitename ASC
	`
)

// largeTransferBytes is the threshold of the large transfer throughput set.
const largeTransferBytes = 10 * (1 << 20)

// QuarterlyReport computes per-site transfer statistics for transfers that
// started in [q.Start, q.End). Any failure aborts the whole report.
func (r *Repository) QuarterlyReport(ctx context.Context, q core.QuarterRange) (*QuarterlyReport, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, &core.StageError{Stage: "Unable to connect to the database", Err: err}
	}
	// Nothing is persisted; rolling back drops the snapshot table.
	defer tx.Rollback(ctx)

	if err := snapshotQuarter(ctx, tx, q.Start, q.End); err != nil {
		return nil, &core.StageError{Stage: "Unable to generate cache table", Err: err}
	}

	report := &QuarterlyReport{
		Description: quarterlyDescription,
		DateRange: DateRange{
			Start: core.FormatTimestamp(q.Start),
			End:   core.FormatTimestamp(q.End),
		},
		Transfers:       ResultSet[SiteTransfers]{Description: "Total Number of Transfers by Site"},
		Volume:          ResultSet[SiteVolume]{Description: "Total TB Transferred by Site"},
		Throughput:      ResultSet[SiteThroughput]{Description: "Average Throughput by Site (MB/s)"},
		LargeThroughput: ResultSet[SiteThroughput]{Description: "Average Throughput by Site for transfers > 10MB (MB/s)"},
	}

	if report.Transfers.Results, err = collect[SiteTransfers](ctx, tx, siteTransfersSQL); err != nil {
		return nil, &core.StageError{Stage: "Unable to query number of transfers", Err: err}
	}
	if report.Volume.Results, err = collect[SiteVolume](ctx, tx, siteVolumeSQL); err != nil {
		return nil, &core.StageError{Stage: "Unable to query number of tb transferred", Err: err}
	}
	if report.Throughput.Results, err = collect[SiteThroughput](ctx, tx, siteThroughputSQL, -1); err != nil {
		return nil, &core.StageError{Stage: "Unable to query average throughput", Err: err}
	}
	if report.LargeThroughput.Results, err = collect[SiteThroughput](ctx, tx, siteThroughputSQL, largeTransferBytes); err != nil {
		return nil, &core.StageError{Stage: "Unable to query average throughput of large transfers", Err: err}
	}

	return report, nil
}

func snapshotQuarter(ctx context.Context, tx pgx.Tx, start, end time.Time) error {
	_, err := tx.Exec(ctx, `
		CREATE TEMP TABLE grid_transfers_cache (
			start_time TIMESTAMP,
			end_time   TIMESTAMP,
			bytes      BIGINT,
			type       TEXT,
			dest_hosts TEXT[]
		) ON COMMIT DROP
	`)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO grid_transfers_cache (start_time, end_time, bytes, type, dest_hosts)
		SELECT start_time, end_time, bytes, type, dest_hosts
		FROM grid_transfers
		WHERE start_time >= $1
			AND start_time < $2
			AND protocol = $3
			AND type = ANY($4)
	`, start, end, core.Protocol, core.ReportedTypes)
	return err
}

func collect[T any](ctx context.Context, tx pgx.Tx, sql string, args ...any) ([]T, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	results, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []T{}
	}
	return results, nil
}
