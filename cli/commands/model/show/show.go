package show

import (
	"github.com/pdvrieze/ProcessManager-sub007/cli/api"
	"github.com/pdvrieze/ProcessManager-sub007/cli/output"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "show FILE",
	Short: "Prints the nodes of a process model file",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		pm, err := api.ReadModel(args[0])
		if err != nil {
			return err
		}
		output.Current.OutputModel(pm)
		return nil
	},
}
