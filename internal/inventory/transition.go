package inventory

import (
	"fmt"

	"github.com/vasilkosturski/orderflow/internal/events"
)

type Kind string

const (
	KindReserve Kind = "RESERVE"
	KindConfirm Kind = "CONFIRM"
	KindRelease Kind = "RELEASE"
	KindUnknown Kind = "UNKNOWN"
)

// Target identifies what a transition applies to.
type Target struct {
	OrderID   string
	ProductID int64
	Quantity  int
}

// Transition is a closed set: Reserve, Confirm, Release and Unknown.
type Transition interface {
	Kind() Kind
	Target() Target
	sealed()
}

type Reserve struct{ target Target }
type Confirm struct{ target Target }
type Release struct{ target Target }

// Unknown carries a status with no inventory effect.
type Unknown struct {
	target Target
	Status string
}

func (Reserve) Kind() Kind { return KindReserve }
func (Confirm) Kind() Kind { return KindConfirm }
func (Release) Kind() Kind { return KindRelease }
func (Unknown) Kind() Kind { return KindUnknown }

func (t Reserve) Target() Target { return t.target }
func (t Confirm) Target() Target { return t.target }
func (t Release) Target() Target { return t.target }
func (t Unknown) Target() Target { return t.target }

func (Reserve) sealed() {}
func (Confirm) sealed() {}
func (Release) sealed() {}
func (Unknown) sealed() {}

// FromEvent maps a lifecycle event status onto its inventory transition.
func FromEvent(evt events.OrderEvent) Transition {
	target := Target{OrderID: evt.OrderID, ProductID: evt.ProductID, Quantity: evt.Quantity}

	switch evt.Status {
	case events.StatusPending:
		return Reserve{target: target}
	case events.StatusConfirmed:
		return Confirm{target: target}
	case events.StatusCancelled:
		return Release{target: target}
	default:
		return Unknown{target: target, Status: evt.Status}
	}
}

// Mutate applies t to inv in memory. Unknown is a no-op.
func Mutate(t Transition, inv *Inventory) error {
	switch t := t.(type) {
	case Reserve:
		return inv.Reserve(t.target.Quantity)
	case Confirm:
		return inv.Confirm(t.target.Quantity)
	case Release:
		return inv.Release(t.target.Quantity)
	case Unknown:
		return nil
	default:
		panic(fmt.Sprintf("inventory: unhandled transition %T", t))
	}
}

// DedupKey identifies one transition of one order.
func DedupKey(t Transition) string {
	return t.Target().OrderID + ":" + string(t.Kind())
}
