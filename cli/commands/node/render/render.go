package render

import (
	"context"

	"github.com/pdvrieze/ProcessManager-sub007/cli/api"
	"github.com/pdvrieze/ProcessManager-sub007/cli/flag"
	"github.com/pdvrieze/ProcessManager-sub007/cli/output"
	"github.com/pdvrieze/ProcessManager-sub007/server/workflow"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Dry runs a process model and prints its node instances as XML",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	Cmd.Flags().StringVar(&flag.Value.Payload, flag.Payload, "", "payload the process is started with")
	Cmd.Flags().StringVar(&flag.Value.Principal, flag.Principal, "pectl", "principal starting the process")
}

func run(cmd *cobra.Command, args []string) error {
	pm, err := api.ReadModel(args[0])
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	nis, runErr := api.DryRun(ctx, pm, flag.Value.Principal, flag.Value.Payload)
	out := make([][]byte, 0, len(nis))
	for _, ni := range nis {
		b, err := workflow.MarshalNodeInstance(ni)
		if err != nil {
			return err
		}
		out = append(out, b)
	}
	output.Current.OutputNodeInstances(out)
	return runErr
}
