package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"taskweaver/internal/dag"
	"taskweaver/internal/report"
)

// buildGraph loads a graph file and validates its structure without opening
// any task resources.
func buildGraph(path string) (*dag.TaskGraph, error) {
	gf, baseDir, err := loadGraphArg(path)
	if err != nil {
		return nil, err
	}
	tasks, err := gf.BuildTasks(baseDir, nil)
	if err != nil {
		return nil, configError(err)
	}
	g, err := dag.NewTaskGraph(tasks)
	if err != nil {
		return nil, configError(err)
	}
	return g, nil
}

func newValidateCmd(a *app) *cobra.Command {
	var graph string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a graph file without running it",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := buildGraph(graph)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "ok: %d tasks, %d edges, %d levels\n", g.Len(), len(g.Edges()), len(g.Levels()))
			fmt.Fprintf(a.stdout, "fingerprint: %s\n", g.Fingerprint())
			return nil
		},
	}
	cmd.Flags().StringVarP(&graph, "graph", "g", "", "graph file (YAML or JSON)")
	return cmd
}

func newOrderCmd(a *app) *cobra.Command {
	var (
		graph  string
		levels bool
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Print the order tasks would run in",
		Long: `Order prints the sequential execution order, one task per line. With
--levels it prints the stages of tasks that may run concurrently instead.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := buildGraph(graph)
			if err != nil {
				return err
			}
			if levels {
				for i, lvl := range g.Levels() {
					fmt.Fprintf(a.stdout, "%d: %s\n", i, strings.Join(lvl, " "))
				}
				return nil
			}
			for _, name := range g.TopologicalOrder() {
				fmt.Fprintln(a.stdout, name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&graph, "graph", "g", "", "graph file (YAML or JSON)")
	cmd.Flags().BoolVar(&levels, "levels", false, "group tasks into parallel stages")
	return cmd
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored run reports, or print one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Report.Dir
			if dir == "" {
				return configError(errors.New("report.dir is not set"))
			}
			store, err := report.NewStore(dir)
			if err != nil {
				return internalError(err)
			}

			if len(args) == 1 {
				r, err := store.Load(args[0])
				if err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return invalidInvocationf("no report for run %q", args[0])
					}
					return internalError(err)
				}
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(r)
			}

			reports, err := store.List()
			if err != nil {
				return internalError(err)
			}
			t := table.NewWriter()
			t.SetOutputMirror(a.stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Run ID", "Started", "Mode", "Status", "Succeeded", "Failed", "Skipped"})
			for _, r := range reports {
				status := "ok"
				if !r.OK() {
					status = "failed"
				}
				t.AppendRow(table.Row{
					r.RunID, r.StartedAt.UTC().Format(time.RFC3339), r.Mode, status,
					r.Summary.Succeeded, r.Summary.Failed, r.Summary.Skipped,
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().String("report-dir", "", "directory holding run reports")
	return cmd
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of taskweaver",
		Args:  noArgs,
		// Version must work without a valid config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.stdout, "taskweaver version %s\n", Version)
		},
	}
}
