package keys

const (
	ModelHandle        = "model.h"
	ModelName          = "model.name"
	ModelUUID          = "model.uuid"
	ProcessInstance    = "pi.h"
	InstanceName       = "pi.name"
	NodeInstance       = "ni.h"
	NodeID             = "node.id"
	NodeKind           = "node.kind"
	State              = "state"
	PreviousState      = "state.prev"
	Owner              = "owner"
	Principal          = "principal"
	SendHandle         = "send.h"
	MessageID          = "msg.id"
	Destination        = "msg.dest"
	StatusCode         = "msg.status"
	Attempt            = "attempt"
	Table              = "store.table"
	Handle             = "store.h"
	Operation          = "op"
	Workers            = "workers"
	PredecessorArrival = "join.arrival"
)
