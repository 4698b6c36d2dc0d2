package dispatch

import (
	"fmt"
	"time"

	"github.com/pdvrieze/ProcessManager-sub007/model"
)

// DeliveryState tracks a send through the dispatcher.
type DeliveryState int

const (
	Queued DeliveryState = iota
	InFlight
	Delivered
	DeliveryFailed
	DeliveryCancelled
)

var deliveryStateNames = [...]string{"Queued", "InFlight", "Delivered", "Failed", "Cancelled"}

func (s DeliveryState) String() string {
	if s < 0 || int(s) >= len(deliveryStateNames) {
		return fmt.Sprintf("DeliveryState(%d)", int(s))
	}
	return deliveryStateNames[s]
}

// Delivery is the stored record of one send. Its handle is the pending-send
// handle given to completion callbacks.
type Delivery struct {
	Handle      model.Handle
	MessageID   string
	Destination string
	State       DeliveryState
	StatusCode  int
	Error       string
	Queued      time.Time
	Finished    time.Time
}

// SetHandle is called by the store when the record is first persisted.
func (d *Delivery) SetHandle(h model.Handle) { d.Handle = h }

// DeliveryTable is the store table holding delivery records.
const DeliveryTable = "deliveries"
