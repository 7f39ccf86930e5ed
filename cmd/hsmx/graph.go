package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comalice/hsmx"
	"github.com/comalice/hsmx/internal/demo"
	"github.com/comalice/hsmx/internal/production"
)

func newGraphCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:       "graph [devices|workflow|flow]",
		Short:     "Export a scenario's engine topology",
		Long:      `Builds a scenario without running it and prints its engines, their states and parent edges as DOT, JSON or YAML.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"devices", "workflow", "flow"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}

			var engines []*hsmx.Engine
			switch args[0] {
			case "devices":
				m, err := demo.NewDeviceManager(cfg.Devices)
				if err != nil {
					return err
				}
				defer m.Close()
				engines = m.Engines()
			case "workflow":
				w, err := demo.NewWorkflow(cfg.Workflow)
				if err != nil {
					return err
				}
				defer w.Close()
				engines = []*hsmx.Engine{w.Engine}
			case "flow":
				f, err := demo.NewFlow(cfg.Flow)
				if err != nil {
					return err
				}
				defer f.Close()
				engines = f.Engines()
			default:
				return fmt.Errorf("unknown scenario %q", args[0])
			}

			topo := production.Snapshot(engines...)
			v := &production.DefaultVisualizer{}
			out := cmd.OutOrStdout()
			switch format {
			case "dot":
				fmt.Fprint(out, v.ExportDOT(topo))
				return nil
			case "json":
				raw, err := v.ExportJSON(topo)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(raw))
				return nil
			case "yaml":
				raw, err := v.ExportYAML(topo)
				if err != nil {
					return err
				}
				fmt.Fprint(out, string(raw))
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "dot", "output format: dot, json or yaml")
	return cmd
}
