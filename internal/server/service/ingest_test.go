package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gridxfer/internal/core"
	"gridxfer/internal/server/database"
	"gridxfer/internal/server/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferLine(typ string, nbytes int) string {
	return "DATE=20140115123045.5 HOST=h1 PROG=globus-url-copy NL.EVNT=ok START=20140115123000.0 " +
		"USER=alice FILE=/a/b BUFFER=1048576 BLOCK=65536 NBYTES=" + strconv.Itoa(nbytes) +
		" VOLUME=vol1 STREAMS=4 STRIPES=1 DEST=[10.0.0.1,10.0.0.2] TYPE=" + typ + " CODE=0"
}

func sampleLog() []byte {
	return []byte(strings.Join([]string{
		"# header",
		transferLine("STOR", 1),
		"",
		transferLine("RETR", 2),
		"truncated DATE=2014",
		transferLine("ERET", 3),
	}, "\n") + "\n")
}

func TestIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("parses and stores a new log", func(t *testing.T) {
		ledger := newMemLedger()
		svc := NewIngestService(ledger, nil)
		fixed := time.Date(2014, 2, 1, 0, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return fixed }

		data := sampleLog()
		res, err := svc.Ingest(ctx, bytes.NewReader(data), "alice")
		require.NoError(t, err)

		wantDigest, _, _ := core.Digest(bytes.NewReader(data))
		assert.Equal(t, OutcomeIngested, res.Outcome)
		assert.Equal(t, wantDigest, res.Digest)
		assert.Equal(t, int64(len(data)), res.Size)
		assert.Equal(t, 6, res.Lines)
		assert.Equal(t, 3, res.Inserted)
		assert.Equal(t, 3, res.Skipped)

		require.Len(t, ledger.records, 3)
		assert.Equal(t, "STOR", ledger.records[0].Type)
		assert.Equal(t, "ERET", ledger.records[2].Type)
		assert.Equal(t, database.UploadHash{ReceivedAt: fixed, SHA1: wantDigest, SubmittedBy: "alice"}, ledger.hashes[wantDigest])
	})

	t.Run("second submission of the same content is a no-op", func(t *testing.T) {
		ledger := newMemLedger()
		svc := NewIngestService(ledger, nil)
		data := sampleLog()

		first, err := svc.Ingest(ctx, bytes.NewReader(data), "alice")
		require.NoError(t, err)
		require.Equal(t, OutcomeIngested, first.Outcome)
		assert.Nil(t, first.Previous)

		second, err := svc.Ingest(ctx, bytes.NewReader(data), "bob")
		require.NoError(t, err)
		assert.Equal(t, OutcomeKnown, second.Outcome)
		assert.Equal(t, first.Digest, second.Digest)
		require.NotNil(t, second.Previous)
		assert.Equal(t, "alice", second.Previous.SubmittedBy)

		assert.Equal(t, 3, ledger.recordCount())
		assert.Len(t, ledger.hashes, 1)
	})

	t.Run("a log with no valid lines is still recorded", func(t *testing.T) {
		ledger := newMemLedger()
		svc := NewIngestService(ledger, nil)

		res, err := svc.Ingest(ctx, strings.NewReader("\n\nnot a transfer\n"), "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeIngested, res.Outcome)
		assert.Zero(t, res.Inserted)
		assert.Len(t, ledger.hashes, 1)
	})

	t.Run("insert failure rolls back the whole log", func(t *testing.T) {
		ledger := newMemLedger()
		ledger.insertErr = errors.New("disk full")
		ledger.failAfter = 2
		svc := NewIngestService(ledger, nil)

		_, err := svc.Ingest(ctx, bytes.NewReader(sampleLog()), "")
		var se *core.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "Unable to insert rows", se.Stage)
		assert.Zero(t, ledger.recordCount())
		assert.Empty(t, ledger.hashes)
	})

	t.Run("ledger write failure rolls back", func(t *testing.T) {
		ledger := newMemLedger()
		ledger.recordErr = errors.New("constraint violated")
		svc := NewIngestService(ledger, nil)

		_, err := svc.Ingest(ctx, bytes.NewReader(sampleLog()), "")
		var se *core.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "Unable to store hash", se.Stage)
		assert.Zero(t, ledger.recordCount())
	})

	t.Run("transaction start failure", func(t *testing.T) {
		ledger := newMemLedger()
		ledger.beginErr = errors.New("no transactions")
		svc := NewIngestService(ledger, nil)

		_, err := svc.Ingest(ctx, bytes.NewReader(sampleLog()), "")
		var se *core.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "Unable to start transaction", se.Stage)
	})

	t.Run("hash lookup failure", func(t *testing.T) {
		ledger := newMemLedger()
		ledger.hashErr = errors.New("connection refused")
		svc := NewIngestService(ledger, nil)

		_, err := svc.Ingest(ctx, bytes.NewReader(sampleLog()), "")
		var se *core.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "Unable to query hashes", se.Stage)
		assert.ErrorContains(t, err, "connection refused")
	})

	t.Run("concurrent duplicate loses the ledger race", func(t *testing.T) {
		ledger := newMemLedger()
		svc := NewIngestService(ledger, nil)
		data := sampleLog()
		digest, _, _ := core.Digest(bytes.NewReader(data))

		// Another request commits the same digest after our existence check.
		tx, err := ledger.BeginIngest(ctx)
		require.NoError(t, err)
		_, err = tx.RecordHash(ctx, database.UploadHash{SHA1: digest})
		require.NoError(t, err)
		race := &racingLedger{memLedger: ledger, other: tx}

		svc.ledger = race
		res, err := svc.Ingest(ctx, bytes.NewReader(data), "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeKnown, res.Outcome)
		assert.Zero(t, ledger.recordCount())
		assert.Len(t, ledger.hashes, 1)
	})

	t.Run("rollback failure after losing the race is logged only", func(t *testing.T) {
		ledger := newMemLedger()
		ledger.rollbackErr = errors.New("connection reset")
		svc := NewIngestService(ledger, nil)
		data := sampleLog()
		digest, _, _ := core.Digest(bytes.NewReader(data))

		tx, err := ledger.BeginIngest(ctx)
		require.NoError(t, err)
		_, err = tx.RecordHash(ctx, database.UploadHash{SHA1: digest})
		require.NoError(t, err)

		svc.ledger = &racingLedger{memLedger: ledger, other: tx}
		res, err := svc.Ingest(ctx, bytes.NewReader(data), "")
		require.NoError(t, err)
		assert.Equal(t, OutcomeKnown, res.Outcome)
		assert.Zero(t, ledger.recordCount())
	})

	t.Run("archives ingested logs", func(t *testing.T) {
		dir := t.TempDir()
		svc := NewIngestService(newMemLedger(), storage.NewFileSystemStore(dir))
		data := sampleLog()

		res, err := svc.Ingest(ctx, bytes.NewReader(data), "")
		require.NoError(t, err)

		archived, err := os.ReadFile(filepath.Join(dir, res.Digest+".log"))
		require.NoError(t, err)
		assert.Equal(t, data, archived)
	})
}

// racingLedger commits another transaction between the existence check and
// the ledger insert of the request under test.
type racingLedger struct {
	*memLedger
	other database.IngestTx
}

func (r *racingLedger) BeginIngest(ctx context.Context) (database.IngestTx, error) {
	if err := r.other.Commit(ctx); err != nil {
		return nil, err
	}
	return r.memLedger.BeginIngest(ctx)
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	svc := NewIngestService(ledger, nil)

	data := sampleLog()
	digest, _, _ := core.Digest(bytes.NewReader(data))

	res, err := svc.Probe(ctx, strings.ToUpper(digest))
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnknown, res.Outcome)
	assert.Equal(t, digest, res.Digest)

	_, err = svc.Ingest(ctx, bytes.NewReader(data), "")
	require.NoError(t, err)
	before := ledger.recordCount()

	res, err = svc.Probe(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeKnown, res.Outcome)
	assert.Equal(t, before, ledger.recordCount())
	assert.Len(t, ledger.hashes, 1)

	t.Run("rejects malformed digests without a lookup", func(t *testing.T) {
		queries := ledger.queries
		_, err := svc.Probe(ctx, "not-a-digest")
		var ve *core.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, queries, ledger.queries)
	})
}
