package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kuitang/crmscenarios/fixtures"
	"github.com/kuitang/crmscenarios/internal/config"
	"github.com/kuitang/crmscenarios/internal/driver"
	"github.com/kuitang/crmscenarios/internal/driver/fakedriver"
	"github.com/kuitang/crmscenarios/internal/errs"
	"github.com/kuitang/crmscenarios/internal/history"
	"github.com/kuitang/crmscenarios/internal/report"
)

const scenarioA = `name: TC_A
tags: [smoke]
initial_url: /
steps:
  - click: {locator: "#go"}
assertions:
  - {text: Home, timeout: 100ms}
`

const scenarioB = `name: TC_B
tags: [nightly, reports]
initial_url: /reports
steps:
  - fill: {locator: "#q", value: "${CRM_USER:-admin2}"}
assertions:
  - {text: Export Successful!, timeout: 50ms}
`

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"a.yaml":    {Data: []byte(scenarioA)},
		"b.yaml":    {Data: []byte(scenarioB)},
		"README.md": {Data: []byte("not a scenario")},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		BaseURL:           "http://crm.test",
		Browser:           "chromium",
		Headless:          true,
		DefaultTimeout:    200 * time.Millisecond,
		NavigationTimeout: 200 * time.Millisecond,
		SubframeWait:      50 * time.Millisecond,
		Parallelism:       2,
		LogLevel:          "error",
	}
}

type harness struct {
	fake *fakedriver.Fake
	cfg  *config.Config
	deps Deps
}

func newHarness(files fstest.MapFS) *harness {
	h := &harness{fake: fakedriver.New(), cfg: testConfig()}
	h.fake.Show("Home")
	h.deps = Deps{
		LoadConfig: func() (*config.Config, error) {
			cp := *h.cfg
			return &cp, nil
		},
		NewLauncher: func(*config.Config) driver.Launcher { return h.fake },
		Lookup:      func(string) (string, bool) { return "", false },
		Fixtures:    files,
	}
	return h
}

func (h *harness) execute(args ...string) (string, error) {
	return h.executeContext(context.Background(), args...)
}

func (h *harness) executeContext(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := NewRootCommand(h.deps)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRun_ReportsFailuresWithExitCodeOne(t *testing.T) {
	h := newHarness(testFS())

	out, err := h.execute("run")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))
	assert.Contains(t, out, "PASS TC_A")
	assert.Contains(t, out, "FAIL TC_B")
	assert.Contains(t, out, "assertion 0: text \"Export Successful!\" visible [assertion_failure]")
	assert.Contains(t, out, "2 scenarios, 1 passed, 1 failed")
	assert.Equal(t, "admin2", h.fake.Value("#q"))
}

func TestRun_TagFilterPasses(t *testing.T) {
	h := newHarness(testFS())

	out, err := h.execute("run", "--tag", "smoke")
	require.NoError(t, err)
	assert.Equal(t, 0, ExitCode(err))
	assert.Contains(t, out, "1 scenarios, 1 passed, 0 failed")
	assert.NotContains(t, out, "TC_B")
}

func TestRun_NoMatchIsUsageError(t *testing.T) {
	h := newHarness(testFS())

	_, err := h.execute("run", "TC_Z*")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, err.Error(), "no scenarios match")
}

func TestRun_JSONFormat(t *testing.T) {
	h := newHarness(testFS())

	out, err := h.execute("run", "--format", "json", "TC_A")
	require.NoError(t, err)

	var decoded struct {
		Results []report.Result `json:"results"`
		Summary report.Summary  `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, report.Summary{Total: 1, Passed: 1}, decoded.Summary)
	require.Len(t, decoded.Results, 1)
	assert.Equal(t, "TC_A", decoded.Results[0].Scenario)
	assert.NotEmpty(t, decoded.Results[0].RunID)
}

func TestRun_InvalidFormatRejected(t *testing.T) {
	h := newHarness(testFS())

	_, err := h.execute("run", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
}

func TestRun_FlagOverridesAreValidated(t *testing.T) {
	h := newHarness(testFS())

	_, err := h.execute("run", "--browser", "netscape")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, err.Error(), "BROWSER")
	assert.Empty(t, h.fake.Calls())
}

func TestRun_RecordsHistory(t *testing.T) {
	h := newHarness(testFS())
	h.cfg.HistoryDB = filepath.Join(t.TempDir(), "history.db")

	_, err := h.execute("run")
	require.Error(t, err)
	_, err = h.execute("run", "TC_A")
	require.NoError(t, err)

	out, err := h.execute("history", "--format", "json", "TC_A")
	require.NoError(t, err)
	var recent []report.Result
	require.NoError(t, json.Unmarshal([]byte(out), &recent))
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Passed())

	out, err = h.execute("history", "--stats", "--format", "json")
	require.NoError(t, err)
	var stats []history.ScenarioStats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	require.Len(t, stats, 2)
	assert.Equal(t, "TC_A", stats[0].Scenario)
	assert.Equal(t, 2, stats[0].Runs)
	assert.Equal(t, "TC_B", stats[1].Scenario)
	assert.Equal(t, 1, stats[1].Failed)

	out, err = h.execute("history", "--stats")
	require.NoError(t, err)
	assert.Contains(t, out, "SCENARIO")
	assert.Contains(t, out, "TC_B")
}

func TestRun_InterruptedSuiteIsStillRecorded(t *testing.T) {
	h := newHarness(testFS())
	h.cfg.HistoryDB = filepath.Join(t.TempDir(), "history.db")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.executeContext(ctx, "run")
	require.Error(t, err)
	assert.Equal(t, 1, ExitCode(err))

	out, err := h.execute("history", "--format", "json", "TC_A")
	require.NoError(t, err)
	var recent []report.Result
	require.NoError(t, json.Unmarshal([]byte(out), &recent))
	require.Len(t, recent, 1)
	require.NotNil(t, recent[0].Failure)
	assert.Equal(t, errs.Canceled, recent[0].Failure.Code)
}

func TestRun_NoHistoryFlag(t *testing.T) {
	h := newHarness(testFS())
	dbPath := filepath.Join(t.TempDir(), "history.db")
	h.cfg.HistoryDB = dbPath

	_, err := h.execute("run", "--no-history", "TC_A")
	require.NoError(t, err)
	_, statErr := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(statErr), "history database should not be created")
}

func TestHistory_RequiresDatabase(t *testing.T) {
	h := newHarness(testFS())

	_, err := h.execute("history")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))
	assert.Contains(t, err.Error(), "HISTORY_DB")
}

func TestValidate_BuiltInFixtures(t *testing.T) {
	h := newHarness(nil)
	h.deps.Fixtures = fixtures.FS()

	out, err := h.execute("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "ok      TC001_login")
	assert.Contains(t, out, "5 valid, 0 invalid")
}

func TestValidate_ReportsEveryBrokenFile(t *testing.T) {
	files := testFS()
	files["c.yaml"] = &fstest.MapFile{Data: []byte("name: TC_C\ninitial_url: /\nsteps:\n  - {}\n")}
	files["d.yaml"] = &fstest.MapFile{Data: []byte("name: TC_A\ninitial_url: /dup\n")}
	h := newHarness(files)

	out, err := h.execute("validate", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, 2, ExitCode(err))

	var res ValidationResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.Valid)
	require.Len(t, res.Files, 4)
	assert.Empty(t, res.Files[0].Error)
	assert.Empty(t, res.Files[1].Error)
	assert.Contains(t, res.Files[2].Error, "exactly one of")
	assert.Contains(t, res.Files[3].Error, "duplicate scenario name TC_A")
}

func TestValidate_Paths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(scenarioA), 0o644))
	h := newHarness(nil)

	out, err := h.execute("validate", dir, filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "ok      TC_A")
	assert.Contains(t, out, "1 valid, 1 invalid")
}

func TestList_Golden(t *testing.T) {
	h := newHarness(testFS())

	out, err := h.execute("list")
	require.NoError(t, err)
	g := goldie.New(t)
	g.Assert(t, "list", []byte(out))
}

func TestList_DirFlagAndJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(scenarioB), 0o644))
	h := newHarness(testFS())

	out, err := h.execute("list", "--dir", dir, "--format", "json")
	require.NoError(t, err)
	var entries []ListEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "TC_B", entries[0].Name)
	assert.Equal(t, []string{"nightly", "reports"}, entries[0].Tags)
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(failedError(assert.AnError)))
	assert.Equal(t, 2, ExitCode(usageError(assert.AnError)))
	assert.Equal(t, 2, ExitCode(assert.AnError))
}
