package header

import (
	"context"
	"net/http"

	"github.com/nats-io/nats.go"
)

// Values are the out of band values carried with an outgoing message.
type Values map[string]string

// Well known header names.
const (
	MessageID    = "Message-ID"
	ContentType  = "Content-Type"
	Status       = "Response-Status" // NATS reserves "Status" for its own status line
	Instance     = "Process-Instance"
	NodeInstance = "Node-Instance"
)

type contextKey string

// ContextKey is the key for header values in the context.
var ContextKey contextKey = "ProcessHeader"

// ToCtx returns a context carrying vals, merged over any values already present.
func ToCtx(ctx context.Context, vals Values) context.Context {
	merged := make(Values, len(vals))
	for k, v := range FromCtx(ctx) {
		merged[k] = v
	}
	for k, v := range vals {
		merged[k] = v
	}
	return context.WithValue(ctx, ContextKey, merged)
}

// FromCtx returns the values carried by ctx. It never returns nil.
func FromCtx(ctx context.Context) Values {
	if v, ok := ctx.Value(ContextKey).(Values); ok {
		return v
	}
	return make(Values)
}

// ToMsg copies vals onto a NATS message.
func ToMsg(vals Values, msg *nats.Msg) {
	if msg.Header == nil {
		msg.Header = make(nats.Header)
	}
	for k, v := range vals {
		msg.Header.Set(k, v)
	}
}

// FromMsg reads the single valued headers of a NATS message.
func FromMsg(msg *nats.Msg) Values {
	vals := make(Values, len(msg.Header))
	for k := range msg.Header {
		vals[k] = msg.Header.Get(k)
	}
	return vals
}

// ToHTTP copies vals onto an HTTP header.
func ToHTTP(vals Values, h http.Header) {
	for k, v := range vals {
		h.Set(k, v)
	}
}
