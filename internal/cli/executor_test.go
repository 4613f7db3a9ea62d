package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskweaver/internal/report"
)

type harness struct {
	dir       string
	cfg       string
	reportDir string
	logDir    string
}

func newHarness(t *testing.T, extraConfig string) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		dir:       dir,
		cfg:       filepath.Join(dir, "taskweaver.yaml"),
		reportDir: filepath.Join(dir, "runs"),
		logDir:    filepath.Join(dir, "logs"),
	}
	body := "report:\n  dir: " + h.reportDir + "\nlog:\n  dir: " + h.logDir + "\n" + extraConfig
	require.NoError(t, os.WriteFile(h.cfg, []byte(body), 0o644))
	return h
}

func (h *harness) graph(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func (h *harness) exec(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--config", h.cfg)
	code := Execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const pipelineGraph = `
tasks:
  - name: fetch
    run: echo 21
  - name: double
    run: 'echo $(( $1 * 2 ))'
    depends_on:
      - {task: fetch, inject: positional}
  - name: answer
    run: 'echo "answer=$VALUE"'
    log: answer.log
    depends_on:
      - {task: double, inject: keyword, keyword: VALUE}
`

const failingGraph = `
tasks:
  - {name: ok, run: "echo fine"}
  - {name: broken, run: "echo oops >&2; exit 3"}
  - {name: after, run: "echo never", depends_on: [broken]}
  - {name: later, run: "echo never", depends_on: [after]}
  - {name: side, run: "echo side", depends_on: [ok]}
`

func TestRun_Pipeline(t *testing.T) {
	h := newHarness(t, "")
	graph := h.graph(t, "graph.yaml", pipelineGraph)
	tracePath := filepath.Join(h.dir, "trace.json")
	metricsPath := filepath.Join(h.dir, "metrics.prom")

	code, stdout, stderr := h.exec(t, "run", "--graph", graph, "--trace", tracePath, "--metrics-file", metricsPath)
	require.Equal(t, ExitSuccess, code, stderr)

	assert.Contains(t, stdout, "SUCCEEDED fetch")
	assert.Contains(t, stdout, "SUCCEEDED answer")
	assert.Contains(t, stdout, "3 succeeded, 0 failed, 0 skipped")
	assert.Contains(t, stdout, "report: ")

	store, err := report.NewStore(h.reportDir)
	require.NoError(t, err)
	reports, err := store.List()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	r := reports[0]
	assert.True(t, r.OK())
	require.Len(t, r.Tasks, 3)
	assert.Equal(t, "answer", r.Tasks[2].Name)
	assert.Equal(t, "answer=42", r.Tasks[2].Result)

	b, err := os.ReadFile(tracePath)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"fingerprint":"`+r.Fingerprint+`"`)

	b, err = os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), `taskweaver_tasks_total{outcome="succeeded"} 3`)

	b, err = os.ReadFile(filepath.Join(h.logDir, "answer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "Starting answer.")
	assert.Contains(t, string(b), "Finished answer.")
}

func TestRun_FailureSkipsDownstreamOnly(t *testing.T) {
	h := newHarness(t, "")
	graph := h.graph(t, "graph.yaml", failingGraph)

	code, stdout, stderr := h.exec(t, "run", "--graph", graph, "--mode", "parallel", "--workers", "2")
	assert.Equal(t, ExitGraphFailure, code)

	assert.Contains(t, stdout, "FAILED    broken: exit status 3: oops")
	assert.Contains(t, stdout, "SKIPPED   after")
	assert.Contains(t, stdout, "SKIPPED   later")
	assert.Contains(t, stdout, "SUCCEEDED side")
	assert.Contains(t, stdout, "2 succeeded, 1 failed, 2 skipped")
	assert.Contains(t, stderr, "1 task(s) failed, 2 skipped")
}

func TestRun_SequentialAndParallelTracesMatch(t *testing.T) {
	h := newHarness(t, "")
	graph := h.graph(t, "graph.yaml", failingGraph)

	seqTrace := filepath.Join(h.dir, "seq.json")
	parTrace := filepath.Join(h.dir, "par.json")
	code, _, _ := h.exec(t, "run", "-g", graph, "--mode", "sequential", "--trace", seqTrace)
	require.Equal(t, ExitGraphFailure, code)
	code, _, _ = h.exec(t, "run", "-g", graph, "--mode", "parallel", "-w", "4", "--trace", parTrace)
	require.Equal(t, ExitGraphFailure, code)

	seq, err := os.ReadFile(seqTrace)
	require.NoError(t, err)
	par, err := os.ReadFile(parTrace)
	require.NoError(t, err)
	assert.Equal(t, string(seq), string(par))
}

func TestRun_InvocationErrors(t *testing.T) {
	h := newHarness(t, "")
	graph := h.graph(t, "graph.yaml", pipelineGraph)

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"missing graph flag", []string{"run"}, ExitInvalidInvocation},
		{"unknown flag", []string{"run", "--graph", graph, "--retries", "3"}, ExitInvalidInvocation},
		{"positional args", []string{"run", "extra"}, ExitInvalidInvocation},
		{"unknown command", []string{"launch"}, ExitInvalidInvocation},
		{"bad mode", []string{"run", "--graph", graph, "--mode", "eager"}, ExitConfigError},
		{"zero workers", []string{"run", "--graph", graph, "--workers", "-1"}, ExitConfigError},
		{"missing graph file", []string{"run", "--graph", filepath.Join(h.dir, "nope.yaml")}, ExitConfigError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := h.exec(t, tt.args...)
			assert.Equal(t, tt.want, code, stderr)
			assert.NotEmpty(t, stderr)
		})
	}
}

func TestRun_InvalidConfigFile(t *testing.T) {
	h := newHarness(t, "run:\n  max_workers: 0\n")
	graph := h.graph(t, "graph.yaml", pipelineGraph)

	code, _, stderr := h.exec(t, "run", "--graph", graph)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "run.max_workers")
}

func TestValidate(t *testing.T) {
	h := newHarness(t, "")

	code, stdout, stderr := h.exec(t, "validate", "--graph", h.graph(t, "ok.yaml", pipelineGraph))
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "ok: 3 tasks, 2 edges, 3 levels")
	assert.Contains(t, stdout, "fingerprint: ")

	cyclic := h.graph(t, "cyclic.yaml", `
tasks:
  - {name: a, run: "true", depends_on: [c]}
  - {name: b, run: "true", depends_on: [a]}
  - {name: c, run: "true", depends_on: [b]}
`)
	code, _, stderr = h.exec(t, "validate", "--graph", cyclic)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "cyclic dependency")

	unknown := h.graph(t, "unknown.yaml", "tasks:\n  - {name: a, run: \"true\", depends_on: [ghost]}\n")
	code, _, stderr = h.exec(t, "validate", "--graph", unknown)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "ghost")
}

func TestOrder(t *testing.T) {
	h := newHarness(t, "")
	graph := h.graph(t, "graph.yaml", failingGraph)

	code, stdout, stderr := h.exec(t, "order", "--graph", graph)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Equal(t, []string{"ok", "broken", "after", "later", "side"}, strings.Fields(stdout))

	code, stdout, _ = h.exec(t, "order", "--graph", graph, "--levels")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "0: ok broken\n1: after side\n2: later\n", stdout)
}

func TestRuns(t *testing.T) {
	h := newHarness(t, "")
	graph := h.graph(t, "graph.yaml", pipelineGraph)

	code, stdout, _ := h.exec(t, "runs")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "RUN ID")

	code, _, stderr := h.exec(t, "run", "--graph", graph)
	require.Equal(t, ExitSuccess, code, stderr)

	store, err := report.NewStore(h.reportDir)
	require.NoError(t, err)
	reports, err := store.List()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	runID := reports[0].RunID

	code, stdout, _ = h.exec(t, "runs")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, runID)
	assert.Contains(t, stdout, "sequential")

	code, stdout, _ = h.exec(t, "runs", runID)
	require.Equal(t, ExitSuccess, code)
	var r report.Report
	require.NoError(t, json.Unmarshal([]byte(stdout), &r))
	assert.Equal(t, runID, r.RunID)

	code, _, _ = h.exec(t, "runs", "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, ExitInvalidInvocation, code)
}

func TestVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	// A broken config must not stop version from printing.
	code := Execute(context.Background(), []string{"version", "--config", "/does/not/exist.yaml"}, &stdout, &stderr)
	assert.Equal(t, ExitSuccess, code, stderr.String())
	assert.Equal(t, "taskweaver version "+Version+"\n", stdout.String())
}

func TestRun_NotifyWithoutSMTPWarnsOnce(t *testing.T) {
	h := newHarness(t, "")
	graph := h.graph(t, "graph.yaml", `
tasks:
  - {name: a, run: "exit 1", notify: true}
  - {name: b, run: "exit 1", notify: true}
`)

	code, _, stderr := h.exec(t, "run", "--graph", graph)
	assert.Equal(t, ExitGraphFailure, code)
	assert.Equal(t, 1, strings.Count(stderr, "smtp is disabled"))
}
