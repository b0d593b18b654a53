package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxLineLength bounds a single log line. Longer lines fail the scan.
const MaxLineLength = 1024 * 1024

var (
	ErrNoMatch       = errors.New("line does not match transfer log grammar")
	ErrBadTimestamp  = errors.New("malformed compact timestamp")
	ErrBadNumber     = errors.New("malformed numeric field")
	ErrNoDestination = errors.New("no destination hosts")
)

// lineGrammar matches one transfer entry of a GridFTP transfer log. Capture
// groups, in order: DATE (end time), HOST, PROG, NL.EVNT, START, USER, FILE,
// BUFFER, BLOCK, NBYTES, VOLUME, STREAMS, STRIPES, DEST, TYPE, CODE.
var lineGrammar = regexp.MustCompile(
	`^DATE=(\d+\.\d+) HOST=(\S+) PROG=(.*) NL\.EVNT=(.*) START=(\d+\.\d+) USER=(\S+) FILE=(.*) ` +
		`BUFFER=(\d+) BLOCK=(\d+) NBYTES=(\d+) VOLUME=(.*) STREAMS=(\d+) STRIPES=(\d+) ` +
		`DEST=\[(.*)\] TYPE=(\S+) CODE=(\d+)`)

var compactTime = regexp.MustCompile(`^(\d{14})\.(\d+)$`)

// ParseLine parses a single trimmed log line into a TransferRecord.
// It returns ErrNoMatch for lines outside the grammar and a wrapped
// ErrBadTimestamp, ErrBadNumber or ErrNoDestination for matching lines whose
// fields cannot be converted.
func ParseLine(line string) (*TransferRecord, error) {
	m := lineGrammar.FindStringSubmatch(line)
	if m == nil {
		return nil, ErrNoMatch
	}

	end, err := ParseCompactTime(m[1])
	if err != nil {
		return nil, fmt.Errorf("DATE: %w", err)
	}
	start, err := ParseCompactTime(m[5])
	if err != nil {
		return nil, fmt.Errorf("START: %w", err)
	}

	rec := &TransferRecord{
		StartTime:      start,
		EndTime:        end,
		Protocol:       Protocol,
		ServerHostname: m[2],
		ClientSoftware: m[3],
		NLEvent:        m[4],
		Username:       m[6],
		Filename:       m[7],
		Volume:         m[11],
		Type:           m[15],
	}

	ints := []struct {
		name string
		raw  string
		dst  *int64
	}{
		{"BUFFER", m[8], &rec.Buffer},
		{"BLOCK", m[9], &rec.Block},
		{"NBYTES", m[10], &rec.Bytes},
	}
	for _, f := range ints {
		n, err := strconv.ParseInt(f.raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, ErrBadNumber)
		}
		*f.dst = n
	}

	smallInts := []struct {
		name string
		raw  string
		dst  *int
	}{
		{"STREAMS", m[12], &rec.Streams},
		{"STRIPES", m[13], &rec.Stripes},
		{"CODE", m[16], &rec.Code},
	}
	for _, f := range smallInts {
		n, err := strconv.ParseInt(f.raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, ErrBadNumber)
		}
		*f.dst = int(n)
	}

	rec.DestHosts = ParseDestHosts(m[14])
	if len(rec.DestHosts) == 0 {
		return nil, ErrNoDestination
	}

	return rec, nil
}

// ParseCompactTime converts a YYYYMMDDHHMMSS.frac value into a time. The
// fraction is kept to nanosecond precision. The result carries no zone
// information and is expressed in UTC.
func ParseCompactTime(s string) (time.Time, error) {
	m := compactTime.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}

	t, err := time.ParseInLocation("20060102150405", m[1], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}

	frac := m[2]
	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))
	ns, err := strconv.Atoi(frac)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
	}

	return t.Add(time.Duration(ns)), nil
}

// FormatTimestamp renders t in the YYYY-MM-DD HH:MM:SS form.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseDestHosts splits the comma separated body of a DEST=[...] field.
// Blank entries are dropped.
func ParseDestHosts(s string) []string {
	var hosts []string
	for _, h := range strings.Split(s, ",") {
		h = strings.TrimSpace(h)
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

// LineScanner reads a transfer log one line at a time and yields the lines
// that parse into records. Lines that fail to parse are counted and skipped.
type LineScanner struct {
	sc      *bufio.Scanner
	rec     *TransferRecord
	lines   int
	skipped int
}

// NewLineScanner creates a scanner over r.
func NewLineScanner(r io.Reader) *LineScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxLineLength)
	return &LineScanner{sc: sc}
}

// Next advances to the next parseable record. It returns false at end of
// input or on a read error, which Err then reports.
func (s *LineScanner) Next() bool {
	for s.sc.Scan() {
		s.lines++
		line := strings.TrimSpace(s.sc.Text())

		rec, err := ParseLine(line)
		if err != nil {
			s.skipped++
			if !errors.Is(err, ErrNoMatch) {
				slog.Debug("skipping transfer log line", "line", s.lines, "error", err)
			}
			continue
		}

		s.rec = rec
		return true
	}
	s.rec = nil
	return false
}

// Record returns the record produced by the last call to Next.
func (s *LineScanner) Record() *TransferRecord {
	return s.rec
}

// Err returns the first read error encountered, if any.
func (s *LineScanner) Err() error {
	if err := s.sc.Err(); err != nil {
		return fmt.Errorf("failed to read transfer log: %w", err)
	}
	return nil
}

// Lines returns the number of lines read so far.
func (s *LineScanner) Lines() int { return s.lines }

// Skipped returns the number of lines that did not produce a record.
func (s *LineScanner) Skipped() int { return s.skipped }
