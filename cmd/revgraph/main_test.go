package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/history"
	"github.com/rohankatakam/revgraph/internal/localgraph"
	"github.com/rohankatakam/revgraph/internal/logging"
	"github.com/rohankatakam/revgraph/internal/plan"
)

const twoFiles = `
ops:
  - create: {as: src, kind: folder, parent: root, data: {name: src}}
  - create: {as: main, kind: file, parent: src, data: {name: main.go}}
`

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stderr)
}

func memoryRepo(t *testing.T) *history.Repository {
	t.Helper()
	repo, err := history.Open(context.Background(), localgraph.OpenMemory())
	require.NoError(t, err)
	return repo
}

func mustParse(t *testing.T, raw string) *plan.Plan {
	t.Helper()
	p, err := plan.Parse([]byte(raw))
	require.NoError(t, err)
	return p
}

func TestCommitPlan(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepo(t)
	first := repo.Head()

	res, err := commitPlan(ctx, repo, mustParse(t, twoFiles))
	require.NoError(t, err)
	assert.Equal(t, first, res.Parent)
	assert.Equal(t, repo.Head(), res.Revision)
	assert.Equal(t, 2, res.Commands)
	assert.Len(t, res.Created, 2)
	assert.Empty(t, repo.Pending())

	var out bytes.Buffer
	printResult(&out, res)
	assert.Contains(t, out.String(), "main → ")
	assert.Contains(t, out.String(), "src → ")
}

func TestCommitPlanStaleParent(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepo(t)
	first := repo.Head()

	_, err := commitPlan(ctx, repo, mustParse(t, twoFiles))
	require.NoError(t, err)

	stale := mustParse(t, "parent: \""+itoa(first)+"\"\n"+twoFiles)
	res, err := commitPlan(ctx, repo, stale)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrStaleParent))
	assert.True(t, isRejection(err))
	assert.Equal(t, first, res.Parent)
	assert.Empty(t, repo.Pending(), "failed commit leaves no pending commands")
}

func TestCommitPlanBuildErrorIsNotRejection(t *testing.T) {
	repo := memoryRepo(t)
	_, err := commitPlan(context.Background(), repo, mustParse(t, "ops:\n  - delete: {target: ghost}\n"))
	require.Error(t, err)
	assert.False(t, isRejection(err))
	assert.Empty(t, repo.Pending())
}

func TestSummarizeAndPrintLog(t *testing.T) {
	ctx := context.Background()
	repo := memoryRepo(t)

	_, err := commitPlan(ctx, repo, mustParse(t, twoFiles))
	require.NoError(t, err)
	res, err := commitPlan(ctx, repo, mustParse(t, "ops:\n  - create: {kind: file, parent: root}\n"))
	require.NoError(t, err)

	summaries, err := summarize(ctx, repo, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.False(t, summaries[0].HasPredecessor)
	assert.Len(t, summaries[1].Commands, 2)
	assert.Len(t, summaries[2].Commands, 1)
	assert.True(t, summaries[2].IsHead)

	var out bytes.Buffer
	printLog(&out, summaries, 0)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "* revision "+itoa(res.Revision)))
	assert.Contains(t, lines[1], "+2 -0 ~0")
	assert.Contains(t, lines[2], "(initial)")

	out.Reset()
	printLog(&out, summaries, 1)
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
}

func TestApplyQueuesRejectedPlan(t *testing.T) {
	keyring.MockInit()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	c := config.Default()
	c.Local.Path = filepath.Join(dir, "graph.db")
	c.Queue.Path = filepath.Join(dir, "dlq.db")
	require.NoError(t, c.Save(cfgPath))

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte(twoFiles), 0644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("parent: \"424242\"\n"+twoFiles), 0644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	defer rootCmd.SetOut(nil)
	defer rootCmd.SetErr(nil)

	rootCmd.SetArgs([]string{"--config", cfgPath, "apply", good})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "committed")

	rootCmd.SetArgs([]string{"--config", cfgPath, "apply", bad})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrStaleParent))

	q, err := openQueue(cfg)
	require.NoError(t, err)
	entries, err := q.List(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.Len(t, entries, 1)
	assert.Equal(t, "bad.yaml", entries[0].Name)
	assert.Equal(t, int64(424242), entries[0].Parent)

	out.Reset()
	rootCmd.SetArgs([]string{"--config", cfgPath, "dlq", "list"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), entries[0].ID)
	assert.Contains(t, out.String(), "STALE_PARENT")

	out.Reset()
	rootCmd.SetArgs([]string{"--config", cfgPath, "log"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "+2 -0 ~0")

	out.Reset()
	rootCmd.SetArgs([]string{"--config", cfgPath, "verify"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "commands")
	assert.NotContains(t, out.String(), "✗")
}

func TestLoggingConfig(t *testing.T) {
	c := config.Default()

	lc := loggingConfig(c, false)
	assert.Equal(t, logging.WARN, lc.Level)
	assert.Empty(t, lc.OutputFile)

	c.Log.Level = "debug"
	c.Log.File = filepath.Join(t.TempDir(), "rg.log")
	c.Log.JSON = true
	lc = loggingConfig(c, false)
	assert.Equal(t, logging.DEBUG, lc.Level)
	assert.Equal(t, c.Log.File, lc.OutputFile)
	assert.True(t, lc.JSONFormat)

	c.Log.Level = "error"
	c.Log.File = config.LogFileAuto
	c.Log.JSON = false
	lc = loggingConfig(c, false)
	assert.Equal(t, logging.ERROR, lc.Level)
	assert.True(t, strings.HasPrefix(lc.OutputFile, filepath.Join(".revgraph", "logs")))
	assert.True(t, lc.JSONFormat)

	lc = loggingConfig(c, true)
	assert.Equal(t, logging.DEBUG, lc.Level)
	assert.True(t, lc.AddSource)
	assert.False(t, lc.JSONFormat)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
