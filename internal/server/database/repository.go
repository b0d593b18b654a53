package database

import (
	"context"
	"errors"
	"fmt"

	"gridxfer/internal/core"

	"github.com/jackc/pgx/v5"
)

// Repository provides access to the transfer store and the upload hash ledger.
type Repository struct {
	db        *DB
	batchSize int
}

// NewRepository creates a new Repository. Inserts made through an ingest
// transaction are sent to the server batchSize rows at a time.
func NewRepository(db *DB, batchSize int) *Repository {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Repository{db: db, batchSize: batchSize}
}

// HashExists reports whether a transfer log with the given SHA-1 digest has
// already been ingested.
func (r *Repository) HashExists(ctx context.Context, sha1 string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM grid_transfers_hashes WHERE sha1hash = $1)", sha1,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query upload hashes: %w", err)
	}
	return exists, nil
}

// GetHash returns the ledger entry for a digest, or nil when there is none.
func (r *Repository) GetHash(ctx context.Context, sha1 string) (*UploadHash, error) {
	h := &UploadHash{}
	var submittedBy *string
	err := r.db.Pool.QueryRow(ctx, `
		SELECT start_time, sha1hash, submitted_by
		FROM grid_transfers_hashes WHERE sha1hash = $1
	`, sha1).Scan(&h.ReceivedAt, &h.SHA1, &submittedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get upload hash: %w", err)
	}
	if submittedBy != nil {
		h.SubmittedBy = *submittedBy
	}
	return h, nil
}

// IngestTx is an open ingest transaction. Records and the ledger entry become
// visible together on Commit; Rollback discards everything.
type IngestTx interface {
	Insert(ctx context.Context, rec *core.TransferRecord) error
	// RecordHash flushes pending inserts and writes the ledger entry. It
	// returns false when another transaction already recorded the digest.
	RecordHash(ctx context.Context, h UploadHash) (bool, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Inserted() int
}

// BeginIngest starts a transaction for ingesting one transfer log.
func (r *Repository) BeginIngest(ctx context.Context) (IngestTx, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ingest transaction: %w", err)
	}
	return &ingestTx{tx: tx, batch: &pgx.Batch{}, batchSize: r.batchSize}, nil
}

const insertTransferSQL = `
	INSERT INTO grid_transfers (
		start_time, end_time, protocol,
		server_hostname, dest_hosts, username,
		client_software, nl_event, filename,
		buffer, block, bytes,
		volume, streams, stripes,
		type, code
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
`

type ingestTx struct {
	tx        pgx.Tx
	batch     *pgx.Batch
	batchSize int
	inserted  int
}

func (t *ingestTx) Insert(ctx context.Context, rec *core.TransferRecord) error {
	t.batch.Queue(insertTransferSQL,
		rec.StartTime,
		rec.EndTime,
		rec.Protocol,
		rec.ServerHostname,
		rec.DestHosts,
		rec.Username,
		rec.ClientSoftware,
		rec.NLEvent,
		rec.Filename,
		rec.Buffer,
		rec.Block,
		rec.Bytes,
		rec.Volume,
		rec.Streams,
		rec.Stripes,
		rec.Type,
		rec.Code,
	)
	if t.batch.Len() >= t.batchSize {
		return t.flush(ctx)
	}
	return nil
}

func (t *ingestTx) flush(ctx context.Context) error {
	n := t.batch.Len()
	if n == 0 {
		return nil
	}

	br := t.tx.SendBatch(ctx, t.batch)
	t.batch = &pgx.Batch{}
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert transfer record: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert transfer records: %w", err)
	}

	t.inserted += n
	return nil
}

func (t *ingestTx) RecordHash(ctx context.Context, h UploadHash) (bool, error) {
	if err := t.flush(ctx); err != nil {
		return false, err
	}

	var submittedBy *string
	if h.SubmittedBy != "" {
		submittedBy = &h.SubmittedBy
	}

	tag, err := t.tx.Exec(ctx, `
		INSERT INTO grid_transfers_hashes (start_time, sha1hash, submitted_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (sha1hash) DO NOTHING
	`, h.ReceivedAt, h.SHA1, submittedBy)
	if err != nil {
		return false, fmt.Errorf("failed to record upload hash: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *ingestTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ingest transaction: %w", err)
	}
	return nil
}

func (t *ingestTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("failed to roll back ingest transaction: %w", err)
	}
	return nil
}

func (t *ingestTx) Inserted() int {
	return t.inserted
}
