package flag

const (
	Output      = "output"
	OutputShort = "o"
	Define      = "define"
	DefineShort = "d"
	Payload     = "payload"
	Principal   = "principal"
)

// Set holds the values of the command line flags.
type Set struct {
	Output    string
	Defines   []string
	Payload   string
	Principal string
}

// Value is the parsed flag set.
var Value Set
