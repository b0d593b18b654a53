package service

import (
	"context"
	"errors"
	"sync"

	"gridxfer/internal/core"
	"gridxfer/internal/server/database"
)

// memLedger is an in-memory Ledger with the same visibility rules as the
// database: records and the ledger entry appear only on commit.
type memLedger struct {
	mu      sync.Mutex
	hashes  map[string]database.UploadHash
	records []*core.TransferRecord

	hashErr     error
	beginErr    error
	insertErr   error
	failAfter   int // Insert fails once this many records were queued
	recordErr   error
	rollbackErr error

	queries int
}

func newMemLedger() *memLedger {
	return &memLedger{hashes: make(map[string]database.UploadHash)}
}

func (l *memLedger) HashExists(ctx context.Context, sha1 string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries++
	if l.hashErr != nil {
		return false, l.hashErr
	}
	_, ok := l.hashes[sha1]
	return ok, nil
}

func (l *memLedger) GetHash(ctx context.Context, sha1 string) (*database.UploadHash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries++
	if l.hashErr != nil {
		return nil, l.hashErr
	}
	h, ok := l.hashes[sha1]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (l *memLedger) BeginIngest(ctx context.Context) (database.IngestTx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries++
	if l.beginErr != nil {
		return nil, l.beginErr
	}
	return &memTx{ledger: l}, nil
}

func (l *memLedger) recordCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

type memTx struct {
	ledger      *memLedger
	pending     []*core.TransferRecord
	hash        *database.UploadHash
	done        bool
	rolledBack  bool
	rollbackErr error
}

func (t *memTx) Insert(ctx context.Context, rec *core.TransferRecord) error {
	if t.ledger.insertErr != nil && len(t.pending) >= t.ledger.failAfter {
		return t.ledger.insertErr
	}
	t.pending = append(t.pending, rec)
	return nil
}

func (t *memTx) RecordHash(ctx context.Context, h database.UploadHash) (bool, error) {
	if t.ledger.recordErr != nil {
		return false, t.ledger.recordErr
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	if _, ok := t.ledger.hashes[h.SHA1]; ok {
		return false, nil
	}
	t.hash = &h
	return true, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction closed")
	}
	t.done = true
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	t.ledger.records = append(t.ledger.records, t.pending...)
	if t.hash != nil {
		t.ledger.hashes[t.hash.SHA1] = *t.hash
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.done = true
	t.rolledBack = true
	return t.ledger.rollbackErr
}

func (t *memTx) Inserted() int {
	return len(t.pending)
}

type memReports struct {
	calls  int
	report *database.QuarterlyReport
	err    error
	last   core.QuarterRange
}

func (m *memReports) QuarterlyReport(ctx context.Context, q core.QuarterRange) (*database.QuarterlyReport, error) {
	m.calls++
	m.last = q
	return m.report, m.err
}
