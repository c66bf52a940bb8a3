package planner

import (
	"math"
	"time"
)

// Point is a pointer position in CSS pixels.
type Point struct {
	X, Y float64
}

func (p Point) distance(o Point) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

type gesturePhase int

const (
	gestureIdle     gesturePhase = iota
	gestureArmed                 // pointer down, long-press timer running
	gestureDragging              // a threshold was crossed; release is not a click
)

// GestureResult is what a release means.
type GestureResult int

const (
	GestureNone  GestureResult = iota
	GestureClick               // open the card detail
	GestureDrop                // end of a drag
)

// gesture tells a click from a drag.
//
// A drag starts once the pointer moves more than DragDistance from where it
// went down, or stays down for LongPress. Whatever is released before either
// threshold is a click. Once dragging, the release can never be a click.
type gesture struct {
	cfg       Config
	phase     gesturePhase
	origin    Point
	pressedAt time.Time
}

func (g *gesture) down(p Point, at time.Time) {
	g.phase = gestureArmed
	g.origin = p
	g.pressedAt = at
}

// move reports whether this event started the drag.
func (g *gesture) move(p Point, at time.Time) bool {
	if g.phase != gestureArmed {
		return false
	}
	if g.origin.distance(p) > g.cfg.DragDistance || g.held(at) {
		g.phase = gestureDragging
		return true
	}
	return false
}

// tick is the long-press timer firing; reports whether the drag started.
func (g *gesture) tick(at time.Time) bool {
	if g.phase != gestureArmed || !g.held(at) {
		return false
	}
	g.phase = gestureDragging
	return true
}

func (g *gesture) up(p Point, at time.Time) GestureResult {
	phase := g.phase
	g.phase = gestureIdle

	switch phase {
	case gestureDragging:
		return GestureDrop
	case gestureArmed:
		// Thresholds may have been crossed without an intervening event.
		if g.origin.distance(p) > g.cfg.DragDistance || g.held(at) {
			return GestureDrop
		}
		return GestureClick
	}
	return GestureNone
}

func (g *gesture) cancel() { g.phase = gestureIdle }

func (g *gesture) dragging() bool { return g.phase == gestureDragging }

func (g *gesture) held(at time.Time) bool {
	return at.Sub(g.pressedAt) >= g.cfg.LongPress
}
