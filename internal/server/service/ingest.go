package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"gridxfer/internal/core"
	"gridxfer/internal/server/database"
	"gridxfer/internal/server/storage"

	"github.com/dustin/go-humanize"
)

// Outcome is the result of a probe or an ingest request.
type Outcome int

const (
	// OutcomeUnknown means the digest has never been ingested.
	OutcomeUnknown Outcome = iota
	// OutcomeKnown means the digest was ingested earlier; nothing was done.
	OutcomeKnown
	// OutcomeIngested means the log was parsed and stored by this request.
	OutcomeIngested
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKnown:
		return "known"
	case OutcomeIngested:
		return "ingested"
	default:
		return "unknown"
	}
}

// Ledger is the store the ingest service writes to.
type Ledger interface {
	HashExists(ctx context.Context, sha1 string) (bool, error)
	GetHash(ctx context.Context, sha1 string) (*database.UploadHash, error)
	BeginIngest(ctx context.Context) (database.IngestTx, error)
}

// IngestResult describes what a probe or ingest request did.
type IngestResult struct {
	Digest   string
	Outcome  Outcome
	Size     int64
	Lines    int
	Inserted int
	Skipped  int
	// Previous is the ledger entry of the earlier ingest when Ingest finds
	// the content already known.
	Previous *database.UploadHash
}

// IngestService turns uploaded transfer logs into transfer records, once per
// distinct log content.
type IngestService struct {
	ledger  Ledger
	archive storage.Store
	now     func() time.Time
}

// NewIngestService creates an ingest service. archive may be nil, in which
// case raw logs are not kept.
func NewIngestService(ledger Ledger, archive storage.Store) *IngestService {
	return &IngestService{
		ledger:  ledger,
		archive: archive,
		now:     time.Now,
	}
}

// Probe reports whether a log with the given digest has been ingested. It
// never writes.
func (s *IngestService) Probe(ctx context.Context, digest string) (*IngestResult, error) {
	digest, err := core.NormalizeDigest(digest)
	if err != nil {
		return nil, err
	}

	exists, err := s.ledger.HashExists(ctx, digest)
	if err != nil {
		return nil, &core.StageError{Stage: "Unable to query hashes", Err: err}
	}

	result := &IngestResult{Digest: digest, Outcome: OutcomeUnknown}
	if exists {
		result.Outcome = OutcomeKnown
	}
	return result, nil
}

// Ingest hashes src, and unless the digest is already in the ledger, parses
// every line into a transfer record and stores the records together with the
// ledger entry in one transaction. submittedBy is recorded on the ledger
// entry and may be empty.
func (s *IngestService) Ingest(ctx context.Context, src io.ReadSeeker, submittedBy string) (*IngestResult, error) {
	digest, size, err := core.Digest(src)
	if err != nil {
		return nil, &core.StageError{Stage: "Unable to read uploaded file", Err: err}
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, &core.StageError{Stage: "Unable to read uploaded file", Err: err}
	}

	result := &IngestResult{Digest: digest, Size: size, Outcome: OutcomeKnown}

	prev, err := s.ledger.GetHash(ctx, digest)
	if err != nil {
		return nil, &core.StageError{Stage: "Unable to query hashes", Err: err}
	}
	if prev != nil {
		result.Previous = prev
		slog.Info("transfer log already ingested",
			"sha1", digest,
			"received_at", prev.ReceivedAt,
			"first_submitted_by", prev.SubmittedBy,
			"submitted_by", submittedBy,
		)
		return result, nil
	}

	tx, err := s.ledger.BeginIngest(ctx)
	if err != nil {
		return nil, &core.StageError{Stage: "Unable to start transaction", Err: err}
	}

	recorded, err := s.parseAndInsert(ctx, tx, src, result, submittedBy)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.Error("failed to roll back ingest", "sha1", digest, "error", rbErr)
		}
		return nil, err
	}
	if !recorded {
		// A concurrent request stored the same log first.
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			slog.Error("failed to roll back ingest", "sha1", digest, "error", rbErr)
		}
		slog.Info("transfer log ingested concurrently", "sha1", digest)
		result.Inserted = 0
		return result, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &core.StageError{Stage: "Unable to store hash", Err: err}
	}
	result.Outcome = OutcomeIngested

	slog.Info("transfer log ingested",
		"sha1", digest,
		"size", humanize.Bytes(uint64(size)),
		"lines", result.Lines,
		"inserted", result.Inserted,
		"skipped", result.Skipped,
		"submitted_by", submittedBy,
	)

	s.archiveLog(src, digest)
	return result, nil
}

func (s *IngestService) parseAndInsert(ctx context.Context, tx database.IngestTx, src io.Reader, result *IngestResult, submittedBy string) (bool, error) {
	scanner := core.NewLineScanner(src)
	for scanner.Next() {
		if err := tx.Insert(ctx, scanner.Record()); err != nil {
			return false, &core.StageError{Stage: "Unable to insert rows", Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return false, &core.StageError{Stage: "Unable to read uploaded file", Err: err}
	}

	recorded, err := tx.RecordHash(ctx, database.UploadHash{
		ReceivedAt:  s.now().UTC(),
		SHA1:        result.Digest,
		SubmittedBy: submittedBy,
	})
	if err != nil {
		return false, &core.StageError{Stage: "Unable to store hash", Err: err}
	}

	result.Lines = scanner.Lines()
	result.Skipped = scanner.Skipped()
	result.Inserted = tx.Inserted()
	return recorded, nil
}

// archiveLog keeps a copy of an ingested log when an archive is configured.
// Failures are logged; the records are already committed.
func (s *IngestService) archiveLog(src io.ReadSeeker, digest string) {
	if s.archive == nil {
		return
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		slog.Error("failed to rewind log for archiving", "sha1", digest, "error", err)
		return
	}
	if _, err := s.archive.Save(digest, src); err != nil {
		slog.Error("failed to archive transfer log", "sha1", digest, "error", err)
	}
}
