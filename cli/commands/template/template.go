package template

import (
	"github.com/pdvrieze/ProcessManager-sub007/cli/commands/template/render"
	"github.com/spf13/cobra"
)

// Cmd is the parent of the message template commands.
var Cmd = &cobra.Command{
	Use:   "template",
	Short: "Actions for message templates",
}

func init() {
	Cmd.AddCommand(render.Cmd)
}
