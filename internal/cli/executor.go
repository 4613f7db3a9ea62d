package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"taskweaver/internal/config"
	"taskweaver/internal/core"
	"taskweaver/internal/dag"
	"taskweaver/internal/logging"
	"taskweaver/internal/metrics"
	"taskweaver/internal/notify"
	"taskweaver/internal/process"
	"taskweaver/internal/report"
	"taskweaver/internal/tasklog"
	"taskweaver/internal/trace"
)

type runFlags struct {
	graph     string
	tracePath string
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every task of a graph file",
		Long: `Run executes the graph and prints one line per task. The exit status is 0
when every task succeeded and 1 when any task failed or was skipped.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.graph, "graph", "g", "", "graph file (YAML or JSON)")
	cmd.Flags().StringVar(&f.tracePath, "trace", "", "write the canonical run trace to this file")
	cmd.Flags().String("mode", "", "execution mode: auto|sequential|parallel (default from config)")
	cmd.Flags().IntP("workers", "w", 0, "maximum concurrent tasks in parallel mode (default from config)")
	cmd.Flags().String("report-dir", "", "directory for run reports")
	cmd.Flags().String("metrics-file", "", "write Prometheus metrics to this textfile")
	return cmd
}

func (a *app) run(ctx context.Context, f runFlags) error {
	cfg := a.cfg
	mode, err := process.ParseMode(cfg.Run.Mode)
	if err != nil {
		return invalidInvocationf("%v", err)
	}
	gf, baseDir, err := loadGraphArg(f.graph)
	if err != nil {
		return err
	}

	res, err := newResources(cfg, a)
	if err != nil {
		return configError(err)
	}
	tasks, err := gf.BuildTasks(baseDir, res)
	if err != nil {
		return configError(errors.Join(err, res.Close()))
	}

	rec := trace.NewRecorder()
	collector := metrics.NewCollector()
	p, err := process.New(tasks,
		process.WithLogger(a.logger),
		process.WithTrace(rec),
		process.WithObserver(collector),
		process.WithCloser(res),
	)
	if err != nil {
		return configError(err)
	}

	result, runErr := p.Run(ctx, process.RunOptions{Mode: mode, MaxWorkers: cfg.Run.MaxWorkers})
	if closeErr := p.Close(); closeErr != nil {
		a.logger.Warn("releasing task resources failed", "error", closeErr)
	}
	if runErr != nil {
		if errors.Is(runErr, dag.ErrInvalidWorkers) {
			return invalidInvocationf("%v", runErr)
		}
		return internalError(runErr)
	}

	printResult(a.stdout, p.Graph(), result)

	if err := a.writeArtifacts(f, p.Graph(), result, rec, collector); err != nil {
		return internalError(err)
	}

	if !result.OK() {
		_, failed, skipped := result.Counts()
		return tasksFailed(failed, skipped)
	}
	return nil
}

// writeArtifacts persists the optional trace, report and metrics textfile.
func (a *app) writeArtifacts(f runFlags, g *dag.TaskGraph, result *dag.RunResult, rec *trace.Recorder, collector *metrics.Collector) error {
	if f.tracePath != "" {
		b, err := rec.Trace(result.Fingerprint).CanonicalJSON()
		if err != nil {
			return fmt.Errorf("encode trace: %w", err)
		}
		if err := writeFileAtomic(f.tracePath, b, 0o644); err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
	}

	if dir := a.cfg.Report.Dir; dir != "" {
		store, err := report.NewStore(dir)
		if err != nil {
			return err
		}
		path, err := store.Save(report.New(report.NewRunID(), g, result))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "report: %s\n", path)
	}

	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := collector.WriteTextfile(path); err != nil {
			return err
		}
	}
	return nil
}

func printResult(w io.Writer, g *dag.TaskGraph, res *dag.RunResult) {
	for _, name := range g.TopologicalOrder() {
		st, _ := res.State(name)
		if st == dag.TaskFailed {
			err := res.Failed[name]
			var te *dag.TaskError
			if errors.As(err, &te) && te.Err != nil {
				err = te.Err
			}
			fmt.Fprintf(w, "%-9s %s: %v\n", st, name, err)
			continue
		}
		fmt.Fprintf(w, "%-9s %s\n", st, name)
	}
	s, f, k := res.Counts()
	fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped in %s (%s)\n", s, f, k, res.Duration.Round(time.Millisecond), res.Mode)
}

// loadGraphArg loads the --graph file and returns it with the directory
// relative task paths resolve against.
func loadGraphArg(path string) (*GraphFile, string, error) {
	if path == "" {
		return nil, "", invalidInvocationf("--graph is required")
	}
	gf, err := LoadGraphFile(path)
	if err != nil {
		return nil, "", configError(err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", configError(err)
	}
	return gf, filepath.Dir(abs), nil
}

// resources opens task log sinks and the shared failure mailer on demand and
// closes whatever it handed out.
type resources struct {
	logDir  string
	manager *tasklog.Manager
	mailer  *notify.Mailer
	warn    func()

	mu     sync.Mutex
	opened []io.Closer
}

func newResources(cfg *config.Config, a *app) (*resources, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	r := &resources{
		logDir: cfg.Log.Dir,
		manager: tasklog.NewManager(tasklog.RotationConfig{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			Compress:   cfg.Log.Compress,
		}, level),
	}

	if cfg.SMTP.Enabled {
		sender := &notify.SMTPSender{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			StartTLS: cfg.SMTP.StartTLS,
			Timeout:  cfg.SMTP.Timeout,
		}
		m, err := notify.NewMailer(cfg.SMTP.From, cfg.SMTP.To, sender)
		if err != nil {
			return nil, err
		}
		r.mailer = m
	} else {
		var once sync.Once
		r.warn = func() {
			once.Do(func() {
				a.logger.Warn("tasks request failure e-mails but smtp is disabled")
			})
		}
	}
	return r, nil
}

func (r *resources) LogSink(path string) (core.LogSink, error) {
	if r.logDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(r.logDir, path)
	}
	s, err := r.manager.Open(path)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.opened = append(r.opened, s)
	r.mu.Unlock()
	return s, nil
}

func (r *resources) Notifier() core.Notifier {
	if r.mailer == nil {
		if r.warn != nil {
			r.warn()
		}
		return nil
	}
	return r.mailer
}

// Close releases every sink handed out plus the mailer. Sinks tolerate a
// second Close, so it is safe after the tasks have been released.
func (r *resources) Close() error {
	r.mu.Lock()
	opened := r.opened
	r.opened = nil
	r.mu.Unlock()

	var errs []error
	for _, c := range opened {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.mailer != nil {
		errs = append(errs, r.mailer.Close())
	}
	return errors.Join(errs...)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
