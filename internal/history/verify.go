package history

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

// Check is one consistency check: a count derived by walking the chain
// compared with the count of stored nodes.
type Check struct {
	Name     string
	Expected int
	Actual   int
	Passed   bool
	Detail   string
}

// Verify cross-checks the stored graph against the revision chain:
//   - exactly one HEAD node
//   - every REVISION node is on the chain
//   - every COMMAND node is reachable from a revision on the chain
//   - no entity has more than one data node
//
// workers bounds the concurrent command reads.
func (r *Repository) Verify(ctx context.Context, workers int) ([]Check, error) {
	chain, err := r.Revisions(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, 5)
	for _, label := range []string{stmt.LabelHead, stmt.LabelRevision, stmt.LabelCommand, stmt.LabelEntity, stmt.LabelData} {
		nodes, err := r.store.FindNodes(ctx, label, nil)
		if err != nil {
			return nil, errors.DatabaseErrorf(err, "count %s nodes", label)
		}
		counts[label] = len(nodes)
	}

	if workers < 1 {
		workers = 1
	}
	perRevision := make([]int, len(chain))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rev := range chain {
		i, id := i, rev.ID
		g.Go(func() error {
			cmds, err := r.Commands(gctx, id)
			if err != nil {
				return err
			}
			perRevision[i] = len(cmds)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	reachable := 0
	for _, n := range perRevision {
		reachable += n
	}

	checks := []Check{
		{Name: "head", Expected: 1, Actual: counts[stmt.LabelHead]},
		{Name: "revisions", Expected: len(chain), Actual: counts[stmt.LabelRevision]},
		{Name: "commands", Expected: reachable, Actual: counts[stmt.LabelCommand]},
	}
	for i := range checks {
		checks[i].Passed = checks[i].Expected == checks[i].Actual
	}

	// Deleted entities keep their node but lose their data.
	data := Check{
		Name:     "data",
		Expected: counts[stmt.LabelEntity],
		Actual:   counts[stmt.LabelData],
		Passed:   counts[stmt.LabelData] <= counts[stmt.LabelEntity],
		Detail:   fmt.Sprintf("%d deleted", counts[stmt.LabelEntity]-counts[stmt.LabelData]),
	}
	checks = append(checks, data)

	for _, c := range checks {
		if !c.Passed {
			r.logger.Warn("consistency check failed",
				"check", c.Name,
				"expected", c.Expected,
				"actual", c.Actual)
		}
	}
	return checks, nil
}
