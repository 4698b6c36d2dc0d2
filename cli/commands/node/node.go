package node

import (
	"github.com/pdvrieze/ProcessManager-sub007/cli/commands/node/render"
	"github.com/spf13/cobra"
)

// Cmd is the parent of the node instance commands.
var Cmd = &cobra.Command{
	Use:   "node",
	Short: "Actions for node instances",
}

func init() {
	Cmd.AddCommand(render.Cmd)
}
