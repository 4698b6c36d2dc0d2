package model

import (
	"github.com/pdvrieze/ProcessManager-sub007/cli/commands/model/show"
	"github.com/pdvrieze/ProcessManager-sub007/cli/commands/model/validate"
	"github.com/spf13/cobra"
)

// Cmd is the parent of the process model commands.
var Cmd = &cobra.Command{
	Use:   "model",
	Short: "Actions for process model files",
}

func init() {
	Cmd.AddCommand(validate.Cmd)
	Cmd.AddCommand(show.Cmd)
}
