// toralectl is the operator-facing client for the task-management port: it
// creates, inspects, and drives tasks directly against the configured
// TaskStore. It never talks to a running toraled process -- the store is
// the shared ground truth a live daemon's reconciler picks changes up from.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "toralectl",
		Short:         "Manage Torale monitoring tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML/JSON/TOML config file")

	root.AddCommand(newTaskCommand(&configFile))
	return root
}

func init() {
	viper.SetEnvPrefix("torale")
	viper.AutomaticEnv()
}
