package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/internal/demo"
	"github.com/comalice/hsmx/internal/source"
)

func newDevicesCmd(a *app) *cobra.Command {
	var (
		count  int
		runFor time.Duration
	)
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Run the device connection manager",
		Long: `Runs a controller monitoring several devices. Each device connects,
keeps a heartbeat, reconnects on loss and reports its status to the
controller, which shares its loop with a scheduler that staggers the
connection requests and stops the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.setup()
			if err != nil {
				return err
			}
			cfg := e.cfg.Devices
			if cmd.Flags().Changed("count") {
				cfg.Count = count
			}
			if cmd.Flags().Changed("run-for") {
				cfg.RunFor = runFor
			}

			return e.serve(cmd.Context(), func(ctx context.Context) error {
				m, err := demo.NewDeviceManager(cfg, e.options()...)
				if err != nil {
					return err
				}
				defer m.Close()
				// An interrupted run still reports where every device got to.
				if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				printStatuses(cmd.OutOrStdout(), m.Statuses())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "number of devices")
	cmd.Flags().DurationVar(&runFor, "run-for", 0, "how long to run before stopping")
	return cmd
}

func printStatuses(w io.Writer, statuses map[string]string) {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, statuses[name])
	}
}

func newWorkflowCmd(a *app) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run the staged workflow",
		Long: `Runs a workflow through initializing, loading, validating, processing,
saving and cleanup. With --interactive, lines read from stdin are sent as
commands: pause, resume or cancel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.setup()
			if err != nil {
				return err
			}

			return e.serve(cmd.Context(), func(ctx context.Context) error {
				w, err := demo.NewWorkflow(e.cfg.Workflow, e.options()...)
				if err != nil {
					return err
				}
				defer w.Close()

				var commands <-chan hsmx.Event
				if interactive {
					src := source.NewChannelSource(8)
					go readCommands(ctx, cmd.InOrStdin(), src)
					commands = src.Events()
				}

				res, err := w.Run(ctx, commands)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "outcome\t%s\n", res.Outcome)
				fmt.Fprintf(out, "step\t%d/%d\n", res.Step, demo.WorkflowSteps)
				if res.FailedStep != "" {
					fmt.Fprintf(out, "failed\t%s\n", res.FailedStep)
				}
				fmt.Fprintf(out, "retries\t%d\n", res.Retries)
				fmt.Fprintf(out, "stages\t%s\n", strings.Join(res.Stages, " -> "))
				fmt.Fprintf(out, "elapsed\t%s\n", res.Elapsed.Round(time.Millisecond))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", false, "read pause/resume/cancel commands from stdin")
	return cmd
}

// readCommands turns stdin lines into workflow commands until EOF.
func readCommands(ctx context.Context, r io.Reader, src *source.ChannelSource) {
	defer src.Close()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		var ev hsmx.Event
		switch cmd := strings.ToLower(strings.TrimSpace(sc.Text())); cmd {
		case demo.CommandPause, demo.CommandResume:
			ev = hsmx.NewEvent(hsmx.EventStep, "command", cmd)
		case "cancel":
			ev = hsmx.NewEvent(hsmx.EventCancel, "command", nil)
		default:
			continue
		}
		src.Send(ev.WithSource("stdin"))
	}
}

func newFlowCmd(a *app) *cobra.Command {
	var sequence []string
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Run the cross-module flow",
		Long: `Runs a scheduler that walks a sequence of steps spread over module
engines, each on its own loop. A step named A3 belongs to module A.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.setup()
			if err != nil {
				return err
			}
			cfg := e.cfg.Flow
			if cmd.Flags().Changed("sequence") {
				cfg.Sequence = sequence
			}

			return e.serve(cmd.Context(), func(ctx context.Context) error {
				f, err := demo.NewFlow(cfg, e.options()...)
				if err != nil {
					return err
				}
				defer f.Close()
				done, err := f.Run(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(done, " -> "))
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&sequence, "sequence", nil, "comma-separated step order, e.g. A1,B1,A2")
	return cmd
}
