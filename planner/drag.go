package planner

import (
	"time"

	"github.com/canteiro/planner/allocation"
)

// Config tunes the drag gesture.
type Config struct {
	// DragDistance is how far (px) the pointer travels before a press
	// becomes a drag.
	DragDistance float64
	// LongPress is how long a stationary press lasts before it becomes a drag.
	LongPress time.Duration
}

func DefaultConfig() Config {
	return Config{DragDistance: 5, LongPress: 500 * time.Millisecond}
}

// State of the drag controller.
type State int

const (
	StateIdle State = iota
	StatePressed
	StateDragging
	StateAwaitingResolution
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePressed:
		return "pressed"
	case StateDragging:
		return "dragging"
	case StateAwaitingResolution:
		return "awaiting_resolution"
	}
	return "unknown"
}

type OutcomeKind int

const (
	OutcomeNone        OutcomeKind = iota
	OutcomeOpenDetail              // plain click on a card
	OutcomeDragStarted             // the press crossed a threshold
	OutcomeDrop                    // dropped on another day; a dialog must resolve it
	OutcomeSameDay                 // dropped where it started, nothing to do
	OutcomeCancelled               // dropped outside a day, or aborted
)

// Outcome is what one pointer event produced.
type Outcome struct {
	Kind OutcomeKind
	Card allocation.Allocation
	From allocation.Date
	To   allocation.Date
}

// DropTarget is the day column under the pointer at release. Day is the raw
// date attribute of the column; a release outside any column passes nil.
type DropTarget struct {
	Day string
}

// Controller drives one drag interaction at a time:
//
//	Idle -> Pressed -> Dragging -> AwaitingResolution -> Idle
//
// Pressed can also end in a click (back to Idle). While a drop waits for
// resolution every new press is ignored.
type Controller struct {
	g      gesture
	state  State
	card   allocation.Allocation
	source allocation.Date
}

func NewController(cfg Config) *Controller {
	return &Controller{g: gesture{cfg: cfg}}
}

func (c *Controller) State() State { return c.state }

// Active returns the card being dragged or awaiting resolution.
func (c *Controller) Active() (allocation.Allocation, bool) {
	if c.state == StateIdle {
		return allocation.Allocation{}, false
	}
	return c.card, true
}

func (c *Controller) PointerDown(card allocation.Allocation, day allocation.Date, p Point, at time.Time) Outcome {
	if c.state != StateIdle {
		return Outcome{}
	}
	c.state = StatePressed
	c.card = card
	c.source = day
	c.g.down(p, at)
	return Outcome{}
}

func (c *Controller) PointerMove(p Point, at time.Time) Outcome {
	if c.state != StatePressed {
		return Outcome{}
	}
	if c.g.move(p, at) {
		return c.startDrag()
	}
	return Outcome{}
}

// Tick delivers the long-press timer.
func (c *Controller) Tick(at time.Time) Outcome {
	if c.state != StatePressed {
		return Outcome{}
	}
	if c.g.tick(at) {
		return c.startDrag()
	}
	return Outcome{}
}

func (c *Controller) startDrag() Outcome {
	c.state = StateDragging
	return Outcome{Kind: OutcomeDragStarted, Card: c.card, From: c.source}
}

func (c *Controller) PointerUp(p Point, at time.Time, target *DropTarget) Outcome {
	if c.state != StatePressed && c.state != StateDragging {
		return Outcome{}
	}

	switch c.g.up(p, at) {
	case GestureClick:
		card, from := c.card, c.source
		c.reset()
		return Outcome{Kind: OutcomeOpenDetail, Card: card, From: from}
	case GestureDrop:
		return c.drop(target)
	}
	c.reset()
	return Outcome{}
}

func (c *Controller) drop(target *DropTarget) Outcome {
	card, from := c.card, c.source
	if target == nil || target.Day == "" {
		c.reset()
		return Outcome{Kind: OutcomeCancelled, Card: card, From: from}
	}
	to, err := allocation.ParseDate(target.Day)
	if err != nil {
		c.reset()
		return Outcome{Kind: OutcomeCancelled, Card: card, From: from}
	}
	if to.Equal(from) {
		c.reset()
		return Outcome{Kind: OutcomeSameDay, Card: card, From: from, To: to}
	}
	c.state = StateAwaitingResolution
	return Outcome{Kind: OutcomeDrop, Card: card, From: from, To: to}
}

// Cancel aborts a press or drag (escape key, pointer capture lost). It does
// not dismiss a drop that is awaiting resolution; use Resolve for that.
func (c *Controller) Cancel() Outcome {
	if c.state != StatePressed && c.state != StateDragging {
		return Outcome{}
	}
	card, from := c.card, c.source
	c.reset()
	return Outcome{Kind: OutcomeCancelled, Card: card, From: from}
}

// Resolve ends the AwaitingResolution state.
func (c *Controller) Resolve() {
	if c.state == StateAwaitingResolution {
		c.reset()
	}
}

func (c *Controller) reset() {
	c.g.cancel()
	c.state = StateIdle
	c.card = allocation.Allocation{}
}
