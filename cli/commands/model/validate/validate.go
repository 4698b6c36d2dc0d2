package validate

import (
	"fmt"

	"github.com/pdvrieze/ProcessManager-sub007/cli/api"
	"github.com/pdvrieze/ProcessManager-sub007/cli/output"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var Cmd = &cobra.Command{
	Use:   "validate FILE...",
	Short: "Checks process model files for structural defects",
	Args:  cobra.MinimumNArgs(1),
	RunE:  run,
}

func run(_ *cobra.Command, args []string) error {
	var errs error
	for _, path := range args {
		_, err := api.ReadModel(path)
		output.Current.OutputValidation(path, err)
		errs = multierr.Append(errs, err)
	}
	if n := len(multierr.Errors(errs)); n > 0 {
		return fmt.Errorf("%d of %d models invalid", n, len(args))
	}
	return nil
}
