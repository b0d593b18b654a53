package service

import (
	"context"
	"sort"
	"strings"

	"gridxfer/internal/core"
	"gridxfer/internal/server/database"
)

// StatXSEDEQuarterly is the per-site quarterly statistics report.
const StatXSEDEQuarterly = "xsede-quarterly"

// ReportStore runs the aggregate queries behind the stats reports.
type ReportStore interface {
	QuarterlyReport(ctx context.Context, q core.QuarterRange) (*database.QuarterlyReport, error)
}

type statFunc func(ctx context.Context, args []string) (any, error)

// StatsService produces the reports served by the stats endpoint.
type StatsService struct {
	store ReportStore
	stats map[string]statFunc
}

func NewStatsService(store ReportStore) *StatsService {
	s := &StatsService{store: store}
	s.stats = map[string]statFunc{
		StatXSEDEQuarterly: func(ctx context.Context, args []string) (any, error) {
			return s.Quarterly(ctx, arg(args, 0), arg(args, 1))
		},
	}
	return s
}

// KnownStatTypes lists the stat types Generate accepts.
func (s *StatsService) KnownStatTypes() []string {
	types := make([]string, 0, len(s.stats))
	for t := range s.stats {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Generate runs the report named statType with its positional arguments.
func (s *StatsService) Generate(ctx context.Context, statType string, args []string) (any, error) {
	fn, ok := s.stats[statType]
	if !ok {
		return nil, &core.ValidationError{
			Arg:   "stat_type",
			Cause: "Unknown stat type. Known stat types:\n  " + strings.Join(s.KnownStatTypes(), "\n  "),
		}
	}
	return fn(ctx, args)
}

// Quarterly validates year and quarter and builds the per-site report for
// that quarter. Invalid input is rejected before the store is queried.
func (s *StatsService) Quarterly(ctx context.Context, year, quarter string) (*database.QuarterlyReport, error) {
	q, err := core.ParseQuarter(year, quarter)
	if err != nil {
		return nil, err
	}
	return s.store.QuarterlyReport(ctx, q)
}

func arg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
