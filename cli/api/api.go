// Package api holds what the pectl commands share: the logger and an
// in-memory engine for dry runs.
package api

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pdvrieze/ProcessManager-sub007/client/parser"
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
	"github.com/pdvrieze/ProcessManager-sub007/server/workflow"
	"go.uber.org/zap"
)

// Logger is the logger of the command line application.
var Logger = zap.NewNop()

// ReadModel parses and validates the process model in the file at path.
func ReadModel(path string) (*model.ProcessModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	defer f.Close()
	pm, err := parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pm, nil
}

// accept answers every message with 202 without sending it anywhere.
type accept struct{}

func (accept) Deliver(_ context.Context, msg *dispatch.Message) (dispatch.Response, error) {
	Logger.Debug("dry run delivery", zap.String("destination", msg.Destination), zap.Int("bytes", len(msg.Body)))
	return dispatch.Response{StatusCode: 202}, nil
}

// DryRun starts pm with payload against an in-memory store. Messages are
// rendered and accepted without network traffic. It returns the node
// instances once every dispatch has been acknowledged.
func DryRun(ctx context.Context, pm *model.ProcessModel, principal string, payload string) ([]*model.NodeInstance, error) {
	store := storage.New(Logger, storage.NewMemory())
	defer store.Close()
	d := dispatch.New(Logger, store, dispatch.Transports{"http": accept{}, "https": accept{}, "nats": accept{}},
		dispatch.Options{PollInterval: 10 * time.Millisecond})
	eng := workflow.NewEngine(Logger, store, d, workflow.WithAuthorizer(workflow.AllowAll))
	defer eng.Close()

	mh, err := eng.AddProcessModel(ctx, pm, principal)
	if err != nil {
		_ = d.Close(ctx)
		return nil, err
	}
	pi, startErr := eng.StartProcess(ctx, principal, mh, pm.Name+" dry run", uuid.New(), payload)
	if !pi.Valid() {
		_ = d.Close(ctx)
		return nil, startErr
	}
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	nis, err := settle(waitCtx, eng, d, pi, principal)
	if cerr := d.Close(waitCtx); err == nil && cerr != nil {
		err = fmt.Errorf("drain dispatcher: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	return nis, startErr
}

// settle polls until no send is outstanding and every node instance has
// seen the outcome of its send. Activities without a message stay Sent
// and are not waited for.
func settle(ctx context.Context, eng *workflow.Engine, d *dispatch.Dispatcher, pi model.Handle, principal string) ([]*model.NodeInstance, error) {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		nis, err := eng.NodeInstances(ctx, pi, principal)
		if err != nil {
			return nil, err
		}
		if d.Pending() == 0 && !anySent(nis) {
			return nis, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for deliveries: %w", ctx.Err())
		case <-tick.C:
		}
	}
}

func anySent(nis []*model.NodeInstance) bool {
	for _, ni := range nis {
		if ni.State == model.Sent && ni.Send.Valid() {
			return true
		}
	}
	return false
}
