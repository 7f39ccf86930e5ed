package main

import (
	"github.com/spf13/cobra"
)

// app carries the persistent flags shared by every subcommand.
type app struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hsmx",
		Short: "hsmx runs hierarchical state machine scenarios",
		Long: `hsmx drives engines with their own event loops, parent bubbling and
one-shot timers through three scenarios: a device connection manager, a
staged workflow and a cross-module flow.`,
		SilenceUsage: true,
	}

	// Persistent flags (available to all commands)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newDevicesCmd(a),
		newWorkflowCmd(a),
		newFlowCmd(a),
		newGraphCmd(a),
		newVersionCmd(),
	)
	return root
}
