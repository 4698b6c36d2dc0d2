package render

import (
	"fmt"
	"os"
	"strings"

	"github.com/pdvrieze/ProcessManager-sub007/cli/flag"
	"github.com/pdvrieze/ProcessManager-sub007/cli/output"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/template"
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "render FILE",
	Short: "Resolves the placeholders of a message body",
	Long: `Resolves the placeholders of a message body against the values given
with --define name=value. A value starting with '<' is an XML fragment,
anything else is text.`,
	Args: cobra.ExactArgs(1),
	RunE: run,
}

func init() {
	Cmd.Flags().StringArrayVarP(&flag.Value.Defines, flag.Define, flag.DefineShort, nil, "a template value as name=value")
}

func run(_ *cobra.Command, args []string) error {
	b, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}
	values, err := parseDefines(flag.Value.Defines)
	if err != nil {
		return err
	}
	body, err := template.NewTransformer(values).Transform(string(b), nil)
	if err != nil {
		return err
	}
	output.Current.OutputRender(body)
	return nil
}

func parseDefines(defs []string) (template.Values, error) {
	values := make(template.Values, 0, len(defs))
	for _, d := range defs {
		name, value, ok := strings.Cut(d, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("define %q is not name=value", d)
		}
		if strings.HasPrefix(strings.TrimSpace(value), "<") {
			values = append(values, model.Fragment(name, value))
		} else {
			values = append(values, model.Scalar(name, value))
		}
	}
	return values, nil
}
