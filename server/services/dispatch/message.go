package dispatch

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/common/header"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// Message is one outbound request.
type Message struct {
	ID          string
	Destination string
	Method      string
	ContentType string
	Body        []byte
	Headers     header.Values
}

// Response is what a transport got back from the remote party.
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport performs the network call for one message. It classifies
// failures: a status outside 200-399 is returned as *errors.HTTPResponseError
// together with the response, an unreachable destination as
// *errors.ConnectionError.
type Transport interface {
	Deliver(ctx context.Context, msg *Message) (Response, error)
}

// Outcome is the result of a finished send: delivered when Err is nil,
// otherwise Err is *errors.HTTPResponseError, *errors.ConnectionError,
// ErrCancelled or errors.ErrClosed.
type Outcome struct {
	Response
	Err      error
	Finished time.Time
}

// Delivered reports whether the remote party accepted the message.
func (o Outcome) Delivered() bool {
	return o.Err == nil
}

// CompletionFunc is called on the notifier goroutine once a send finishes.
// A send submitted after Close is reported with errors.ErrClosed on the
// submitting goroutine instead. handle is the pending-send handle returned
// when the send was submitted.
type CompletionFunc func(handle model.Handle, outcome Outcome)

// Transports selects a transport by destination URL scheme.
type Transports map[string]Transport

func (t Transports) forDestination(dest string) (Transport, error) {
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("destination %q: %w: %w", dest, err, errors.ErrNoTransport)
	}
	tr, ok := t[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("destination %q: %w", dest, errors.ErrNoTransport)
	}
	return tr, nil
}
