package commands

import (
	"os"

	"github.com/pdvrieze/ProcessManager-sub007/cli/api"
	"github.com/pdvrieze/ProcessManager-sub007/cli/commands/model"
	"github.com/pdvrieze/ProcessManager-sub007/cli/commands/node"
	"github.com/pdvrieze/ProcessManager-sub007/cli/commands/template"
	"github.com/pdvrieze/ProcessManager-sub007/cli/flag"
	"github.com/pdvrieze/ProcessManager-sub007/cli/output"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "pectl",
	Short:         "Process engine command line application",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			api.Logger = l
		}
		return output.Select(flag.Value.Output)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(model.Cmd)
	rootCmd.AddCommand(template.Cmd)
	rootCmd.AddCommand(node.Cmd)
	rootCmd.PersistentFlags().StringVarP(&flag.Value.Output, flag.Output, flag.OutputShort, "text", "output format: text or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")
}
