package dispatch

import (
	"context"
	errors2 "errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pdvrieze/ProcessManager-sub007/common/header"
	"github.com/pdvrieze/ProcessManager-sub007/server/errors"
)

// Requester is the part of *nats.Conn used to deliver messages.
type Requester interface {
	RequestMsgWithContext(ctx context.Context, msg *nats.Msg) (*nats.Msg, error)
}

// NATSTransport delivers messages to nats://<subject> destinations as a
// request. The responder reports its status in the Status header; a reply
// without one counts as 200.
type NATSTransport struct {
	conn Requester
}

// NewNATSTransport returns a transport over conn.
func NewNATSTransport(conn Requester) *NATSTransport {
	return &NATSTransport{conn: conn}
}

// Deliver implements Transport.
func (t *NATSTransport) Deliver(ctx context.Context, msg *Message) (Response, error) {
	subject := strings.TrimPrefix(msg.Destination, "nats://")
	if subject == "" || strings.ContainsAny(subject, " \t/") {
		return Response{}, fmt.Errorf("destination %q is not a subject: %w", msg.Destination, errors.ErrWorkflowFatal)
	}
	req := nats.NewMsg(subject)
	header.ToMsg(msg.Headers, req)
	if msg.ContentType != "" {
		req.Header.Set(header.ContentType, msg.ContentType)
	}
	req.Data = msg.Body
	res, err := t.conn.RequestMsgWithContext(ctx, req)
	if err != nil {
		if errors2.Is(err, nats.ErrNoResponders) {
			err = fmt.Errorf("nothing subscribed to %s: %w", subject, err)
		}
		return Response{}, &errors.ConnectionError{Destination: msg.Destination, Err: err}
	}
	status := 200
	if s := res.Header.Get(header.Status); s != "" {
		if status, err = strconv.Atoi(s); err != nil {
			return Response{Body: res.Data}, &errors.ConnectionError{Destination: msg.Destination, Err: fmt.Errorf("bad status header %q: %w", s, err)}
		}
	}
	resp := Response{StatusCode: status, Body: res.Data}
	if status < 200 || status > 399 {
		return resp, &errors.HTTPResponseError{StatusCode: status, Body: res.Data}
	}
	return resp, nil
}
