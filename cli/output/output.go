package output

import (
	"fmt"
	"io"
	"os"

	"github.com/pdvrieze/ProcessManager-sub007/model"
)

// Method represents the output method
type Method interface {
	OutputValidation(name string, err error)
	OutputModel(pm *model.ProcessModel)
	OutputRender(body string)
	OutputNodeInstances(xml [][]byte)
}

// Current is the currently selected output method.
var Current Method = &Text{}

// Stream contains the output stream. By default this is os.Stdout, however, for testing it can be set to a byte buffer for instance.
var Stream io.Writer = os.Stdout

// Select sets Current by name.
func Select(name string) error {
	switch name {
	case "", "text":
		Current = &Text{}
	case "json":
		Current = &JSON{}
	default:
		return fmt.Errorf("unknown output method %q", name)
	}
	return nil
}
