package planner

import (
	"errors"

	"github.com/canteiro/planner/allocation"
)

var (
	// ErrBusy is returned when an action is submitted while the previous one
	// is still outstanding.
	ErrBusy = errors.New("a request is already in progress")

	// ErrNoDialog is returned when a dialog action arrives with no dialog open.
	ErrNoDialog = errors.New("no move dialog is open")

	// ErrNoPendingTransfer is returned by ConfirmTransfer without a fresh
	// conflict to resolve. A failed transfer discards its conflict.
	ErrNoPendingTransfer = errors.New("no pending transfer")

	// ErrTransferPending is returned by Move and Duplicate while the dialog
	// waits for the user to confirm or cancel a transfer.
	ErrTransferPending = errors.New("confirm or cancel the pending transfer first")
)

// Action is a choice in the move dialog.
type Action int

const (
	ActionCancel Action = iota
	ActionMove
	ActionDuplicate
)

func (a Action) String() string {
	switch a {
	case ActionCancel:
		return "cancel"
	case ActionMove:
		return "move"
	case ActionDuplicate:
		return "duplicate"
	}
	return "unknown"
}

type Stage int

const (
	// StageChoose offers Cancel, Move and Duplicate.
	StageChoose Stage = iota
	// StageConfirmTransfer asks whether to pull the employee off the
	// conflicting allocation.
	StageConfirmTransfer
)

// Dialog is opened by a cross-day drop. The planner hands out copies; the
// fields are read-only to callers.
type Dialog struct {
	Allocation allocation.Allocation
	From       allocation.Date
	Target     allocation.Date
	Stage      Stage
	Busy       bool
	Err        error
	Conflict   *allocation.ConflictError
}

func newDialog(o Outcome) *Dialog {
	return &Dialog{Allocation: o.Card, From: o.From, Target: o.To}
}

func (d *Dialog) begin() error {
	if d.Busy {
		return ErrBusy
	}
	d.Busy = true
	d.Err = nil
	return nil
}

func (d *Dialog) fail(err error) {
	d.Busy = false
	d.Err = err
}

func (d *Dialog) enterTransfer(ce *allocation.ConflictError) {
	d.Busy = false
	d.Err = ce
	d.Stage = StageConfirmTransfer
	d.Conflict = ce
}

// dropTransfer goes back to the choice stage after a failed transfer. The
// conflict snapshot is gone; the user must start over.
func (d *Dialog) dropTransfer(err error) {
	d.Busy = false
	d.Err = err
	d.Stage = StageChoose
	d.Conflict = nil
}

// movePatch collapses the allocation onto the target day.
func (d *Dialog) movePatch() allocation.Patch {
	return d.Allocation.MoveTo(d.Target)
}

// duplicate is the new record: foreign keys and scalars of the original,
// without ID or display names, on the target day.
func (d *Dialog) duplicate() allocation.Allocation {
	return d.Allocation.Draft().OnDay(d.Target)
}

func (d *Dialog) transferRequest() allocation.TransferRequest {
	return allocation.TransferRequest{
		ConflictingID: d.Conflict.Conflicting.ID,
		Allocation:    d.Allocation.Draft().OnDay(d.Target),
		ReplacesID:    d.Allocation.ID,
	}
}
