package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"guestcore/inventory"
	"guestcore/reservation"
	"guestcore/state"
)

type OpKind string

const (
	OpReserveWindow OpKind = "reserve_window"
	OpReserveUnits  OpKind = "reserve_units"
	OpPurchase      OpKind = "purchase"
	OpSetCheckout   OpKind = "set_checkout"
)

// IntentOp is one sub-operation of a bundled intent. Which fields matter
// depends on Kind.
type IntentOp struct {
	Kind       OpKind                `json:"kind"`
	ResourceID string                `json:"resource_id,omitempty"`
	Window     reservation.Window    `json:"window,omitempty"`
	Quantity   int                   `json:"quantity,omitempty"`
	Lines      []inventory.BatchLine `json:"lines,omitempty"`
	CheckoutAt string                `json:"checkout_at,omitempty"`
}

// Intent bundles sub-operations that must commit together or not at all.
type Intent struct {
	ID      string     `json:"id"`
	GuestID string     `json:"guest_id"`
	Ops     []IntentOp `json:"ops"`
}

// Result reports the outcome of an intent.
type Result struct {
	IntentID     string                    `json:"intent_id"`
	OK           bool                      `json:"ok"`
	Reason       string                    `json:"reason,omitempty"`
	Reservations []reservation.Reservation `json:"reservations,omitempty"`
	Version      uint64                    `json:"version"`
}

// SubmitIntent expands the intent into ordered ledger operations: every
// precondition is checked against current state before anything is issued,
// reservations run before inventory purchases, and a failure after partial
// commit is unwound by compensating reversals in reverse order.
func (e *Engine) SubmitIntent(in Intent) Result {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if len(in.Ops) == 0 {
		return e.reject(in, "intent has no operations")
	}

	if reason := e.validateIntent(in); reason != "" {
		return e.reject(in, reason)
	}

	var (
		committed []reservation.Reservation
		purchased []inventory.BatchLine
		checkout  string
	)

	rollback := func() {
		// Reverse order: purchases restocked first, then holds released.
		if len(purchased) > 0 {
			for i := len(purchased) - 1; i >= 0; i-- {
				ln := purchased[i]
				if _, err := e.inventory.AdjustStock(ln.ItemID, ln.Quantity, inventory.ReasonRestock); err != nil {
					e.logFn("engine: rollback restock %s: %v", ln.ItemID, err)
				}
			}
			purchased = nil
		}
		for i := len(committed) - 1; i >= 0; i-- {
			if _, err := e.reservations.Cancel(committed[i].ID); err != nil {
				e.logFn("engine: rollback cancel %s: %v", committed[i].ID, err)
			}
		}
		committed = nil
	}

	// Phase 1: holds, in op order.
	for _, op := range in.Ops {
		var (
			r   reservation.Reservation
			err error
		)
		switch op.Kind {
		case OpReserveWindow:
			r, err = e.reservations.HoldWindow(op.ResourceID, in.GuestID, op.Window)
		case OpReserveUnits:
			r, err = e.reservations.HoldUnits(op.ResourceID, in.GuestID, op.Quantity)
		default:
			continue
		}
		if err != nil {
			rollback()
			return e.reject(in, fmt.Sprintf("reserve %s: %v", op.ResourceID, err))
		}
		committed = append(committed, r)
		e.Events.Emit(Event{Type: EventReservationHeld, Payload: ReservationEvent{Reservation: r}})
	}

	// Phase 2: inventory purchases, all-or-nothing per the ledger's batch rules.
	var lines []inventory.BatchLine
	for _, op := range in.Ops {
		if op.Kind == OpPurchase {
			lines = append(lines, op.Lines...)
		}
	}
	if len(lines) > 0 {
		if err := e.inventory.PurchaseBatch(lines); err != nil {
			rollback()
			return e.reject(in, fmt.Sprintf("purchase: %v", err))
		}
		purchased = lines
	}

	// Phase 3: promote holds. Confirm is idempotent; a failure here unwinds
	// the purchases and the remaining holds.
	for i, r := range committed {
		confirmed, err := e.reservations.Confirm(r.ID)
		if err != nil {
			rollback()
			return e.reject(in, fmt.Sprintf("confirm %s: %v", r.ID, err))
		}
		committed[i] = confirmed
	}

	// Phase 4: preferences.
	for _, op := range in.Ops {
		if op.Kind == OpSetCheckout {
			checkout = op.CheckoutAt
		}
	}

	if len(purchased) > 0 {
		e.Events.Emit(Event{Type: EventPurchaseCommitted, Payload: PurchaseCommittedEvent{
			IntentID: in.ID,
			GuestID:  in.GuestID,
			Lines:    purchased,
		}})
	}

	active := e.reservations.Active("")
	summary := e.inventory.Items()
	alerts := e.inventory.Alerts()
	bought := purchased
	version := e.state.Dispatch(state.Mutation{
		Name: "intent/committed",
		Apply: func(s *state.Snapshot) {
			s.ActiveReservations = active
			s.InventorySummary = summary
			s.Alerts = alerts
			if checkout != "" {
				s.CheckoutAt = checkout
			}
			s.Cart = removeLines(s.Cart, bought)
		},
	})

	return Result{
		IntentID:     in.ID,
		OK:           true,
		Reservations: committed,
		Version:      version,
	}
}

// UpdateCart replaces the guest's pending cart lines, a UI-originated mutation.
func (e *Engine) UpdateCart(lines []state.CartLine) uint64 {
	return e.state.Dispatch(state.Mutation{
		Name: "cart/update",
		Apply: func(s *state.Snapshot) {
			s.Cart = lines
		},
	})
}

// validateIntent fail-fast checks every sub-operation against the current
// snapshot before any ledger mutation is issued.
func (e *Engine) validateIntent(in Intent) string {
	wantStock := make(map[string]int)
	for _, op := range in.Ops {
		switch op.Kind {
		case OpReserveWindow:
			if !op.Window.End.After(op.Window.Start) {
				return fmt.Sprintf("reserve %s: window end must be after start", op.ResourceID)
			}
			res, err := e.reservations.Resource(op.ResourceID)
			if err != nil {
				return fmt.Sprintf("reserve %s: %v", op.ResourceID, err)
			}
			if res.Kind != reservation.KindExclusive {
				return fmt.Sprintf("reserve %s: not a time-boxed resource", op.ResourceID)
			}
		case OpReserveUnits:
			if op.Quantity <= 0 {
				return fmt.Sprintf("reserve %s: quantity must be positive", op.ResourceID)
			}
			res, err := e.reservations.Resource(op.ResourceID)
			if err != nil {
				return fmt.Sprintf("reserve %s: %v", op.ResourceID, err)
			}
			if res.Kind != reservation.KindStockUnits {
				return fmt.Sprintf("reserve %s: not a stock-backed resource", op.ResourceID)
			}
		case OpPurchase:
			for _, ln := range op.Lines {
				if ln.Quantity <= 0 {
					return fmt.Sprintf("purchase %s: quantity must be positive", ln.ItemID)
				}
				wantStock[ln.ItemID] += ln.Quantity
			}
		case OpSetCheckout:
			if _, err := time.Parse(time.RFC3339, op.CheckoutAt); err != nil {
				return fmt.Sprintf("checkout time %q: %v", op.CheckoutAt, err)
			}
		default:
			return fmt.Sprintf("unknown operation kind %q", op.Kind)
		}
	}

	// Precondition pass against current inventory. The batch itself re-checks
	// authoritatively at apply time.
	for id, qty := range wantStock {
		it, err := e.inventory.Item(id)
		if err != nil {
			return fmt.Sprintf("purchase %s: %v", id, err)
		}
		if !it.IsActive {
			return fmt.Sprintf("purchase %s: item retired", id)
		}
		if it.Stock < qty {
			return fmt.Sprintf("purchase %s: %v", id, inventory.ErrInsufficientStock)
		}
	}
	return ""
}

func (e *Engine) reject(in Intent, reason string) Result {
	e.Events.Emit(Event{Type: EventIntentFailed, Payload: IntentFailedEvent{
		IntentID: in.ID,
		GuestID:  in.GuestID,
		Reason:   reason,
	}})
	return Result{IntentID: in.ID, OK: false, Reason: reason}
}

func removeLines(cart []state.CartLine, bought []inventory.BatchLine) []state.CartLine {
	if len(bought) == 0 || len(cart) == 0 {
		return cart
	}
	boughtQty := make(map[string]int, len(bought))
	for _, ln := range bought {
		boughtQty[ln.ItemID] += ln.Quantity
	}
	var out []state.CartLine
	for _, cl := range cart {
		used := boughtQty[cl.ItemID]
		if used > cl.Quantity {
			used = cl.Quantity
		}
		boughtQty[cl.ItemID] -= used
		if remaining := cl.Quantity - used; remaining > 0 {
			out = append(out, state.CartLine{ItemID: cl.ItemID, Quantity: remaining})
		}
	}
	return out
}
