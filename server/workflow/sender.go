package workflow

import (
	"github.com/pdvrieze/ProcessManager-sub007/model"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/dispatch"
	"github.com/pdvrieze/ProcessManager-sub007/server/services/storage"
)

// Sender is the part of the dispatcher the engine uses. *dispatch.Dispatcher
// implements it.
type Sender interface {
	// SendTx records msg in tx and sends it once tx commits.
	SendTx(tx *storage.Tx, msg *dispatch.Message, cb dispatch.CompletionFunc) (model.Handle, error)
	// Cancel stops a send that has not started yet.
	Cancel(h model.Handle) bool
}

var _ Sender = (*dispatch.Dispatcher)(nil)
