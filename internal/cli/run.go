package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskweaver/internal/config"
	"taskweaver/internal/logging"
)

// Version is reported by the version command; main overrides it at build time.
var Version = "dev"

// app is the state shared by the commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// flagKeys maps command flags onto the config keys they override.
var flagKeys = map[string]string{
	"mode":         "run.mode",
	"workers":      "run.max_workers",
	"report-dir":   "report.dir",
	"metrics-file": "metrics.textfile",
	"log-level":    "log.level",
}

// loadConfig reads configuration for cmd, letting its changed flags win.
func (a *app) loadConfig(cmd *cobra.Command) error {
	v, err := config.NewViper(a.configFile)
	if err != nil {
		return configError(err)
	}
	bindFlags(v, cmd)

	cfg, err := config.Load(v)
	if err != nil {
		return configError(err)
	}
	logger, err := logging.New(a.stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return configError(err)
	}
	a.cfg = cfg
	a.logger = logger
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("config loaded", "file", used)
	}
	return nil
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) {
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskweaver",
		Short: "Run a dependency graph of tasks",
		Long: `taskweaver runs the tasks of a dependency graph in topological order,
either one at a time or on a bounded pool of workers. Results of a task can be
passed to the tasks that depend on it; a failed task skips everything
downstream of it while unrelated branches keep running.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig(cmd)
		},
	}
	root.SetVersionTemplate(`{{printf "taskweaver version %s\n" .Version}}`)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "config file (default is ./taskweaver.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug|info|warn|error")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newOrderCmd(a),
		newRunsCmd(a),
		newVersionCmd(a),
	)
	return root
}

// Execute runs the command line args and returns the semantic exit code.
// Errors are printed to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "taskweaver: internal error: panic: %v\n%s", r, debug.Stack())
			code = ExitInternalError
		}
	}()

	err := Run(ctx, args, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "taskweaver: %v\n", err)
	}
	return ExitCode(err)
}

// Run is Execute without printing: it returns the command's error. Errors
// raised by argument parsing are classified as invalid invocations.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		return &InvocationError{ExitCode: ExitInvalidInvocation, Err: err}
	}
	return err
}

// noArgs is cobra.NoArgs classified as an invalid invocation.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return invalidInvocationf("%v", err)
	}
	return nil
}
