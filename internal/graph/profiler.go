package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rohankatakam/revgraph/internal/stmt"
)

// Profile is a single store call measurement.
type Profile struct {
	Operation  string
	Statement  string
	Duration   time.Duration
	Rows       int
	Statements int
	Err        error
	Timestamp  time.Time
}

// ProfileStats aggregates the profiles of one operation.
type ProfileStats struct {
	Operation   string
	SampleCount int
	Failures    int
	AvgDuration time.Duration
	MinDuration time.Duration
	MaxDuration time.Duration
	TotalRows   int
}

// Baseline is the slowest acceptable duration of an operation.
type Baseline struct {
	Operation   string
	MaxDuration time.Duration
}

// DefaultBaselines returns duration targets per operation.
func DefaultBaselines() []Baseline {
	return []Baseline{
		{Operation: OpCommit, MaxDuration: 2 * time.Second},
		{Operation: OpBootstrap, MaxDuration: time.Second},
		{Operation: OpInspect, MaxDuration: 500 * time.Millisecond},
		{Operation: OpClear, MaxDuration: 30 * time.Second},
	}
}

// ProfiledStore wraps a Store and records the duration of every call.
// Calls slower than their operation's baseline are logged.
type ProfiledStore struct {
	Store

	mu        sync.Mutex
	profiles  []Profile
	baselines map[string]time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewProfiledStore wraps s with DefaultBaselines.
func NewProfiledStore(s Store) *ProfiledStore {
	p := &ProfiledStore{
		Store:     s,
		baselines: make(map[string]time.Duration),
		logger:    slog.Default().With("component", "profiler"),
		now:       time.Now,
	}
	for _, b := range DefaultBaselines() {
		p.baselines[b.Operation] = b.MaxDuration
	}
	return p
}

// Unwrap returns the wrapped store.
func (p *ProfiledStore) Unwrap() Store { return p.Store }

// SetBaseline overrides the duration target of an operation.
func (p *ProfiledStore) SetBaseline(operation string, max time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baselines[operation] = max
}

func (p *ProfiledStore) Execute(ctx context.Context, statements []stmt.Statement) ([]stmt.Result, error) {
	start := p.now()
	results, err := p.Store.Execute(ctx, statements)

	prof := Profile{Statements: len(statements), Err: err}
	if len(statements) > 0 {
		prof.Operation = operationOf(statements[0])
		prof.Statement = statements[0].Name
	}
	for _, r := range results {
		prof.Rows += len(r.Rows)
	}
	p.record(prof, start)
	return results, err
}

func (p *ProfiledStore) Query(ctx context.Context, s stmt.Statement) (stmt.Result, error) {
	start := p.now()
	res, err := p.Store.Query(ctx, s)
	p.record(Profile{
		Operation:  operationOf(s),
		Statement:  s.Name,
		Rows:       len(res.Rows),
		Statements: 1,
		Err:        err,
	}, start)
	return res, err
}

// Stream keeps streaming available through the wrapper.
func (p *ProfiledStore) Stream(ctx context.Context, s stmt.Statement, fn func(row map[string]any) error) error {
	start := p.now()
	rows := 0
	err := EachRow(ctx, p.Store, s, func(row map[string]any) error {
		rows++
		return fn(row)
	})
	p.record(Profile{
		Operation:  operationOf(s),
		Statement:  s.Name,
		Rows:       rows,
		Statements: 1,
		Err:        err,
	}, start)
	return err
}

func (p *ProfiledStore) Clear(ctx context.Context) error {
	start := p.now()
	err := p.Store.Clear(ctx)
	p.record(Profile{Operation: OpClear, Statement: OpClear, Err: err}, start)
	return err
}

func (p *ProfiledStore) record(prof Profile, start time.Time) {
	prof.Timestamp = p.now()
	prof.Duration = prof.Timestamp.Sub(start)

	p.mu.Lock()
	p.profiles = append(p.profiles, prof)
	max, ok := p.baselines[prof.Operation]
	p.mu.Unlock()

	if ok && prof.Duration > max {
		p.logger.Warn("slow store call",
			"operation", prof.Operation,
			"statement", prof.Statement,
			"duration_ms", prof.Duration.Milliseconds(),
			"baseline_ms", max.Milliseconds(),
			"rows", prof.Rows)
	}
}

// Profiles returns a copy of the recorded profiles.
func (p *ProfiledStore) Profiles() []Profile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Profile(nil), p.profiles...)
}

// Stats aggregates profiles per operation, sorted by operation name.
func (p *ProfiledStore) Stats() []ProfileStats {
	byOp := make(map[string]*ProfileStats)
	total := make(map[string]time.Duration)
	for _, prof := range p.Profiles() {
		s, ok := byOp[prof.Operation]
		if !ok {
			s = &ProfileStats{Operation: prof.Operation, MinDuration: prof.Duration}
			byOp[prof.Operation] = s
		}
		s.SampleCount++
		s.TotalRows += prof.Rows
		if prof.Err != nil {
			s.Failures++
		}
		if prof.Duration < s.MinDuration {
			s.MinDuration = prof.Duration
		}
		if prof.Duration > s.MaxDuration {
			s.MaxDuration = prof.Duration
		}
		total[prof.Operation] += prof.Duration
	}

	out := make([]ProfileStats, 0, len(byOp))
	for op, s := range byOp {
		s.AvgDuration = total[op] / time.Duration(s.SampleCount)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// Regressions lists every profile that exceeded its baseline.
func (p *ProfiledStore) Regressions() []string {
	p.mu.Lock()
	baselines := make(map[string]time.Duration, len(p.baselines))
	for k, v := range p.baselines {
		baselines[k] = v
	}
	p.mu.Unlock()

	var out []string
	for _, prof := range p.Profiles() {
		if max, ok := baselines[prof.Operation]; ok && prof.Duration > max {
			out = append(out, fmt.Sprintf("[%s] %s took %v, baseline %v",
				prof.Operation, prof.Statement, prof.Duration, max))
		}
	}
	return out
}

// Reset clears all collected profiles
func (p *ProfiledStore) Reset() {
	p.mu.Lock()
	p.profiles = nil
	p.mu.Unlock()
}
