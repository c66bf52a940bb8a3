/*
planner.go - Weekly allocation board for one work site

PURPOSE:
  Planner is the client-side state behind the weekly board. It owns the
  visible week, the bucketed board, the drag controller and the move dialog,
  and it talks to the allocation API through the API interface (the HTTP
  client in client/, or an in-process *allocation.Service).

FLOW:
  PointerDown/Move/Up -> Controller -> cross-day drop opens a Dialog
  Move / Duplicate    -> API call    -> success: close, re-fetch, notify
                                     -> move conflict: StageConfirmTransfer
  ConfirmTransfer     -> API.Transfer -> success: close, re-fetch, notify
                                      -> failure: snapshot dropped, notify

CONCURRENCY:
  Every method is safe for concurrent use. Network calls never run under the
  planner's lock, so pointer events stay responsive while a request is
  outstanding. Notifications are delivered after the lock is released.

SEE ALSO:
  - fetcher.go: last-request-wins week retrieval
  - drag.go:    click/drag recognition and drop resolution
  - dialog.go:  Move/Duplicate dialog state
*/
package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/canteiro/planner/allocation"
)

var (
	// ErrTransport marks failures to reach the API at all.
	ErrTransport = errors.New("transport failure")

	// ErrClosed is returned by every network operation after Close.
	ErrClosed = errors.New("planner closed")
)

// API is the allocation backend. *allocation.Service satisfies it directly.
type API interface {
	Lister
	Create(ctx context.Context, a allocation.Allocation) (*allocation.Allocation, error)
	Update(ctx context.Context, id allocation.ID, p allocation.Patch) (*allocation.Allocation, error)
	Delete(ctx context.Context, id allocation.ID) error
	Transfer(ctx context.Context, req allocation.TransferRequest) (*allocation.TransferResult, error)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Notification struct {
	Level   Level
	Message string
	Err     error
}

// Notifier shows toasts. It is never called with the planner's lock held.
type Notifier interface {
	Notify(Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Describe renders err for a person.
func Describe(err error) string {
	var (
		ve *allocation.ValidationError
		te *allocation.TransferError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "Invalid data: " + ve.Error()
	case errors.As(err, &te):
		return "Transfer failed: " + te.Reason + ". Start the action again."
	case errors.Is(err, ErrFetchFailed):
		return "Could not load the week's allocations. Check your connection."
	case errors.Is(err, ErrTransport):
		return "Could not reach the server. Check your connection."
	case errors.Is(err, allocation.ErrNotFound):
		return "The allocation no longer exists."
	}
	if ce, ok := allocation.AsConflict(err); ok {
		site := ce.Conflicting.WorkSiteName
		if site == "" {
			site = ce.Conflicting.WorkSiteID
		}
		return fmt.Sprintf("The employee is already allocated to %s during %s.",
			site, allocation.Span{Start: ce.Conflicting.Start, End: ce.Conflicting.End})
	}
	return "Something went wrong: " + err.Error()
}

// =============================================================================
// PLANNER
// =============================================================================

type Option func(*Planner)

func WithNotifier(n Notifier) Option {
	return func(p *Planner) { p.notifier = n }
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Planner) { p.log = l }
}

func WithClock(clock func() time.Time) Option {
	return func(p *Planner) { p.clock = clock }
}

func WithConfig(cfg Config) Option {
	return func(p *Planner) { p.cfg = cfg }
}

// WithFilter restricts the board to one work site and/or category.
func WithFilter(f Filter) Option {
	return func(p *Planner) { p.filter = f }
}

// WithWeekOf opens the planner on the week containing d instead of today.
func WithWeekOf(d allocation.Date) Option {
	return func(p *Planner) { p.start = &d }
}

type Planner struct {
	api      API
	fetcher  *Fetcher
	notifier Notifier
	log      zerolog.Logger
	clock    func() time.Time
	cfg      Config
	start    *allocation.Date

	mu       sync.Mutex
	week     Week
	filter   Filter
	board    Board
	loaded   bool
	closed   bool
	ctrl     *Controller
	dialog   *Dialog
	transfer *pendingTransfer

	// beforeFetch runs between reserving a week fetch and issuing it.
	beforeFetch func()
}

// pendingTransfer is a conflict raised by a form submission (create or
// edit) that the user may resolve with ConfirmTransfer.
type pendingTransfer struct {
	conflict *allocation.ConflictError
	data     allocation.Allocation
	replaces allocation.ID
	busy     bool
}

func New(api API, opts ...Option) *Planner {
	p := &Planner{
		api:      api,
		fetcher:  NewFetcher(api),
		notifier: NotifierFunc(func(Notification) {}),
		log:      zerolog.Nop(),
		clock:    time.Now,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}

	ref := Today(p.clock)
	if p.start != nil {
		ref = *p.start
	}
	p.week = ComputeWeek(ref)
	p.board = emptyBoard(p.week)
	p.ctrl = NewController(p.cfg)
	return p
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

func (p *Planner) Week() Week {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.week
}

func (p *Planner) Filter() Filter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter
}

// Board returns a copy of the current board and whether it holds a
// successful fetch for the visible week.
func (p *Planner) Board() (Board, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.board.clone(), p.loaded
}

// Dialog returns a copy of the open dialog.
func (p *Planner) Dialog() (Dialog, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialog == nil {
		return Dialog{}, false
	}
	return *p.dialog, true
}

// PendingTransfer returns the conflict a form submission is waiting on.
func (p *Planner) PendingTransfer() (*allocation.ConflictError, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.transfer == nil {
		return nil, false
	}
	return p.transfer.conflict, true
}

func (p *Planner) DragState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl.State()
}

// =============================================================================
// FETCHING AND NAVIGATION
// =============================================================================

// Refresh reloads the visible week. On failure the board is emptied, a
// warning is shown and an error wrapping ErrFetchFailed is returned. A result
// overtaken by a newer Refresh or by Close returns ErrStaleResult and leaves
// the board alone.
func (p *Planner) Refresh(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	week, filter := p.week, p.filter
	ticket := p.fetcher.Begin(week, filter)
	hook := p.beforeFetch
	p.mu.Unlock()

	if hook != nil {
		hook()
	}
	res, err := p.fetcher.Fetch(ctx, ticket)

	p.mu.Lock()
	if errors.Is(err, ErrStaleResult) || !p.fetcher.IsCurrent(res) || !p.showing(res) {
		p.mu.Unlock()
		p.log.Debug().Str("week", week.String()).Msg("discarded stale week")
		return ErrStaleResult
	}
	if err != nil {
		p.board = emptyBoard(week)
		p.loaded = false
		p.mu.Unlock()

		p.log.Warn().Err(err).Str("week", week.String()).Msg("week fetch failed")
		p.notify(LevelWarning, err)
		return err
	}
	p.board = BucketByDay(res.Allocations, week.Days)
	p.board.Week = week
	p.loaded = true
	p.mu.Unlock()

	p.log.Debug().Str("week", week.String()).Int("allocations", len(res.Allocations)).Msg("week loaded")
	return nil
}

// showing reports whether res was fetched for the window currently on
// screen. Callers hold p.mu.
func (p *Planner) showing(res Result) bool {
	return res.Week.Start.Equal(p.week.Start) && res.Filter == p.filter
}

// Open loads the initial week.
func (p *Planner) Open(ctx context.Context) error {
	return p.Refresh(ctx)
}

func (p *Planner) NextWeek(ctx context.Context) error {
	return p.navigate(ctx, func(w Week) allocation.Date { return w.Next() })
}

func (p *Planner) PreviousWeek(ctx context.Context) error {
	return p.navigate(ctx, func(w Week) allocation.Date { return w.Previous() })
}

func (p *Planner) CurrentWeek(ctx context.Context) error {
	return p.navigate(ctx, func(Week) allocation.Date { return Today(p.clock) })
}

// GoTo shows the week containing d.
func (p *Planner) GoTo(ctx context.Context, d allocation.Date) error {
	return p.navigate(ctx, func(Week) allocation.Date { return d })
}

// SetFilter switches work site or category and reloads.
func (p *Planner) SetFilter(ctx context.Context, f Filter) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.filter = f
	p.board = emptyBoard(p.week)
	p.loaded = false
	p.mu.Unlock()
	return p.Refresh(ctx)
}

func (p *Planner) navigate(ctx context.Context, ref func(Week) allocation.Date) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.week = ComputeWeek(ref(p.week))
	// Cards from the old week must not show under the new dates.
	p.board = emptyBoard(p.week)
	p.loaded = false
	p.ctrl.Cancel()
	p.mu.Unlock()
	return p.Refresh(ctx)
}

// Close detaches the planner. Results of in-flight requests are ignored.
func (p *Planner) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.fetcher.Close()
}

// =============================================================================
// POINTER EVENTS
// =============================================================================

// PointerDown starts an interaction on the card with the given ID. Unknown
// cards and presses during another interaction are ignored.
func (p *Planner) PointerDown(id allocation.ID, pt Point, at time.Time) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Outcome{}
	}
	card, day, ok := p.board.Find(id)
	if !ok {
		return Outcome{}
	}
	return p.ctrl.PointerDown(card, day, pt, at)
}

func (p *Planner) PointerMove(pt Point, at time.Time) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl.PointerMove(pt, at)
}

// Tick delivers the long-press timer.
func (p *Planner) Tick(at time.Time) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl.Tick(at)
}

// PointerUp ends the interaction. A cross-day drop opens the move dialog.
func (p *Planner) PointerUp(pt Point, at time.Time, target *DropTarget) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	o := p.ctrl.PointerUp(pt, at, target)
	if o.Kind == OutcomeDrop {
		p.dialog = newDialog(o)
		p.log.Debug().Str("id", string(o.Card.ID)).Str("from", o.From.String()).
			Str("to", o.To.String()).Msg("drop awaiting resolution")
	}
	return o
}

// CancelDrag aborts a press or drag in progress.
func (p *Planner) CancelDrag() Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctrl.Cancel()
}

// =============================================================================
// DIALOG ACTIONS
// =============================================================================

// Resolve runs the dialog action a.
func (p *Planner) Resolve(ctx context.Context, a Action) error {
	switch a {
	case ActionCancel:
		return p.CancelDialog()
	case ActionMove:
		return p.Move(ctx)
	case ActionDuplicate:
		return p.Duplicate(ctx)
	}
	return fmt.Errorf("unknown dialog action %d", a)
}

// CancelDialog closes the dialog without any change.
func (p *Planner) CancelDialog() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dialog == nil {
		return ErrNoDialog
	}
	if p.dialog.Busy {
		return ErrBusy
	}
	p.closeDialogLocked()
	return nil
}

// Move reschedules the dragged allocation onto the target day. An employee
// conflict moves the dialog to StageConfirmTransfer.
func (p *Planner) Move(ctx context.Context) error {
	d, err := p.beginDialog(StageChoose)
	if err != nil {
		return err
	}
	id, patch := d.Allocation.ID, d.movePatch()
	p.mu.Unlock()

	_, err = p.api.Update(ctx, id, patch)

	p.mu.Lock()
	if err != nil {
		if ce, ok := allocation.AsConflict(err); ok {
			d.enterTransfer(ce)
			p.mu.Unlock()
			p.notify(LevelWarning, ce)
			return err
		}
		d.fail(err)
		p.mu.Unlock()
		p.notify(LevelError, err)
		return err
	}
	p.closeDialogLocked()
	p.mu.Unlock()

	p.notifyMessage(LevelSuccess, "Allocation moved to "+d.Target.String()+".")
	p.reload(ctx)
	return nil
}

// Duplicate creates a copy of the dragged allocation on the target day. A
// conflict is reported like any other failure.
func (p *Planner) Duplicate(ctx context.Context) error {
	d, err := p.beginDialog(StageChoose)
	if err != nil {
		return err
	}
	draft := d.duplicate()
	p.mu.Unlock()

	_, err = p.api.Create(ctx, draft)

	p.mu.Lock()
	if err != nil {
		d.fail(err)
		p.mu.Unlock()
		p.notify(LevelError, err)
		return err
	}
	p.closeDialogLocked()
	p.mu.Unlock()

	p.notifyMessage(LevelSuccess, "Allocation duplicated on "+d.Target.String()+".")
	p.reload(ctx)
	return nil
}

// beginDialog marks the dialog busy and returns it with p.mu held.
func (p *Planner) beginDialog(stage Stage) (*Dialog, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	d := p.dialog
	if d == nil {
		p.mu.Unlock()
		return nil, ErrNoDialog
	}
	if d.Stage != stage {
		p.mu.Unlock()
		if stage == StageConfirmTransfer {
			return nil, ErrNoPendingTransfer
		}
		return nil, ErrTransferPending
	}
	if err := d.begin(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	return d, nil
}

func (p *Planner) closeDialogLocked() {
	p.dialog = nil
	p.ctrl.Resolve()
}

// =============================================================================
// FORMS
// =============================================================================

// Create submits a new allocation from the form. An employee conflict is
// kept as a pending transfer the user can confirm.
func (p *Planner) Create(ctx context.Context, a allocation.Allocation) (*allocation.Allocation, error) {
	if err := p.checkOpen(); err != nil {
		return nil, err
	}
	draft := a.Draft()

	created, err := p.api.Create(ctx, draft)
	if err != nil {
		p.formFailed(err, draft, "")
		return nil, err
	}

	p.notifyMessage(LevelSuccess, "Allocation created.")
	p.reload(ctx)
	return created, nil
}

// Edit applies patch to an allocation on the board. An employee conflict
// becomes a pending transfer that rewrites the allocation.
func (p *Planner) Edit(ctx context.Context, id allocation.ID, patch allocation.Patch) (*allocation.Allocation, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	current, _, onBoard := p.board.Find(id)
	p.mu.Unlock()

	updated, err := p.api.Update(ctx, id, patch)
	if err != nil {
		if onBoard {
			p.formFailed(err, patch.Apply(current).Draft(), id)
		} else {
			p.notify(LevelError, err)
		}
		return nil, err
	}

	p.notifyMessage(LevelSuccess, "Allocation updated.")
	p.reload(ctx)
	return updated, nil
}

func (p *Planner) Delete(ctx context.Context, id allocation.ID) error {
	if err := p.checkOpen(); err != nil {
		return err
	}
	if err := p.api.Delete(ctx, id); err != nil {
		p.notify(LevelError, err)
		return err
	}
	p.notifyMessage(LevelSuccess, "Allocation removed.")
	p.reload(ctx)
	return nil
}

func (p *Planner) formFailed(err error, data allocation.Allocation, replaces allocation.ID) {
	ce, ok := allocation.AsConflict(err)
	if !ok {
		p.notify(LevelError, err)
		return
	}
	p.mu.Lock()
	p.transfer = &pendingTransfer{conflict: ce, data: data, replaces: replaces}
	p.mu.Unlock()
	p.notify(LevelWarning, ce)
}

// DismissTransfer drops a pending form transfer.
func (p *Planner) DismissTransfer() {
	p.mu.Lock()
	p.transfer = nil
	p.mu.Unlock()
}

// =============================================================================
// TRANSFER
// =============================================================================

// ConfirmTransfer resolves the current conflict: the conflicting allocation
// is cut short the day before the new start and the new data is written, in
// one server transaction. The dialog's conflict takes precedence over a form
// conflict. Whatever the outcome, the conflict snapshot is consumed.
func (p *Planner) ConfirmTransfer(ctx context.Context) (*allocation.TransferResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	var (
		req    allocation.TransferRequest
		dialog = p.dialog
		form   = p.transfer
	)
	switch {
	case dialog != nil && dialog.Stage == StageConfirmTransfer:
		if err := dialog.begin(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
		form = nil
		req = dialog.transferRequest()
	case form != nil:
		if form.busy {
			p.mu.Unlock()
			return nil, ErrBusy
		}
		form.busy = true
		dialog = nil
		req = allocation.TransferRequest{
			ConflictingID: form.conflict.Conflicting.ID,
			Allocation:    form.data,
			ReplacesID:    form.replaces,
		}
	default:
		p.mu.Unlock()
		return nil, ErrNoPendingTransfer
	}
	p.mu.Unlock()

	res, err := p.api.Transfer(ctx, req)

	p.mu.Lock()
	if form != nil && p.transfer == form {
		p.transfer = nil
	}
	if err != nil {
		if dialog != nil {
			dialog.dropTransfer(err)
		}
		p.mu.Unlock()
		p.log.Warn().Err(err).Str("conflicting", string(req.ConflictingID)).Msg("transfer failed")
		p.notify(LevelError, err)
		return nil, err
	}
	if dialog != nil {
		p.closeDialogLocked()
	}
	p.mu.Unlock()

	p.notifyMessage(LevelSuccess, fmt.Sprintf("Employee transferred. Previous allocation now ends on %s.", res.Truncated.End))
	p.reload(ctx)
	return res, nil
}

// =============================================================================
// CHANGE FEED
// =============================================================================

// Watch re-fetches the visible week whenever an event arrives. Bursts are
// coalesced into one fetch. It returns when events is closed, ctx is done or
// the planner is closed.
func (p *Planner) Watch(ctx context.Context, events <-chan allocation.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.log.Debug().Str("type", string(ev.Type)).Str("id", string(ev.AllocationID)).Msg("change event")
			if !drain(events) {
				p.reload(ctx)
				return nil
			}
			if err := p.Refresh(ctx); errors.Is(err, ErrClosed) {
				return nil
			}
		}
	}
}

// drain empties the buffered events; false means the channel was closed.
func drain(events <-chan allocation.Event) bool {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// reload refreshes after a successful write. Fetch failures have already
// been reported through the notifier.
func (p *Planner) reload(ctx context.Context) {
	if err := p.Refresh(ctx); err != nil && !errors.Is(err, ErrStaleResult) {
		p.log.Debug().Err(err).Msg("reload after write failed")
	}
}

func (p *Planner) checkOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *Planner) notify(level Level, err error) {
	p.notifier.Notify(Notification{Level: level, Message: Describe(err), Err: err})
}

func (p *Planner) notifyMessage(level Level, msg string) {
	p.notifier.Notify(Notification{Level: level, Message: msg})
}
