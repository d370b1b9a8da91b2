package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kwv/anchormesh/geometry"
)

// NotificationKind describes a change to the registry.
type NotificationKind int

const (
	// Captured: a locally requested anchor was confirmed by the store.
	Captured NotificationKind = iota + 1
	// Restored: the store replayed an anchor saved in a previous session.
	Restored
	// Updated: the store refined a registered anchor's pose.
	Updated
	// Removed: a record left the registry.
	Removed
	// Orphaned: the store reported an anchor nothing describes; its removal
	// was requested.
	Orphaned
)

func (k NotificationKind) String() string {
	switch k {
	case Captured:
		return "captured"
	case Restored:
		return "restored"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case Orphaned:
		return "orphaned"
	default:
		return fmt.Sprintf("notification(%d)", int(k))
	}
}

// Notification is delivered to listeners after each table change. Record is
// the record's state after the change, or its last state for Removed. It is
// zero for Orphaned.
type Notification struct {
	Kind   NotificationKind
	ID     AnchorID
	Record Record
}

// Listener receives notifications on the engine goroutine. It must not call
// back into the engine.
type Listener func(Notification)

// State is the reconciliation state of one anchor id.
type State int

const (
	StateAbsent State = iota
	StatePending
	StatePersistent
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StatePersistent:
		return "persistent"
	default:
		return "absent"
	}
}

// Counts reports table sizes.
type Counts struct {
	Pending    int `json:"pending"`
	Persistent int `json:"persistent"`
	Restorable int `json:"restorable"`
}

// Engine reconciles locally registered primitives against an external anchor
// store. All table mutations run on the goroutine executing Run; public
// methods hand closures to it and wait for them to finish.
//
// Records loaded from durable storage wait in a restorable table until the
// store replays their anchor, at which point they become persistent.
type Engine struct {
	store  AnchorStore
	logger *zap.Logger

	ops     chan func()
	stopped chan struct{}
	running atomic.Bool

	pending    map[AnchorID]Record
	persistent map[AnchorID]Record
	restorable map[AnchorID]Record

	lmu       sync.RWMutex
	listeners []Listener

	bg sync.WaitGroup
}

// NewEngine creates an engine bound to store. Call Run to start it.
func NewEngine(store AnchorStore, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:      store,
		logger:     logger.Named("engine"),
		ops:        make(chan func()),
		stopped:    make(chan struct{}),
		pending:    make(map[AnchorID]Record),
		persistent: make(map[AnchorID]Record),
		restorable: make(map[AnchorID]Record),
	}
}

// Preload seeds the restorable table with records from a previous session.
// It must be called before Run.
func (e *Engine) Preload(records map[AnchorID]Record) error {
	if e.running.Load() {
		return errors.New("preload after engine start")
	}
	for id, r := range records {
		r.ID = id
		e.restorable[id] = r
	}
	e.logger.Info("registry preloaded", zap.Int("records", len(records)))
	return nil
}

// AddListener registers l for all future notifications.
func (e *Engine) AddListener(l Listener) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.listeners = append(e.listeners, l)
}

// Run consumes the store's event stream and executes queued operations until
// ctx is cancelled. It returns nil on cancellation.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer func() {
		e.bg.Wait()
		close(e.stopped)
	}()

	e.logger.Info("engine started")
	events := e.store.Events()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopped")
			return nil
		case op := <-e.ops:
			op()
		case ev, ok := <-events:
			if !ok {
				e.logger.Info("anchor event stream closed")
				events = nil
				continue
			}
			e.handleEvent(ctx, ev)
		}
	}
}

// do runs op on the engine goroutine and waits for it.
func (e *Engine) do(ctx context.Context, op func()) error {
	done := make(chan struct{})
	select {
	case e.ops <- func() { defer close(done); op() }:
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// Submit reserves an anchor id, tracks the candidate as pending under it and
// then asks the store for the anchor. The round trip runs off the engine
// goroutine. A store failure discards the pending candidate.
func (e *Engine) Submit(ctx context.Context, c geometry.Candidate) (AnchorID, error) {
	if c.Primitive == nil {
		return "", geometry.ErrNothingFound
	}

	var (
		id      AnchorID
		name    string
		tracked bool
	)
	err := e.do(ctx, func() {
		id = e.store.NewAnchorID()
		if e.tracks(id) {
			tracked = true
			return
		}
		name = fmt.Sprintf("%s%d", c.Primitive.Kind().Title(), len(e.pending)+len(e.persistent))
		e.pending[id] = NewRecord(id, name, c)
	})
	if err != nil {
		return "", err
	}
	if tracked {
		e.logger.Warn("store reserved an id that is already tracked, detection discarded",
			zap.String("id", string(id)))
		return "", fmt.Errorf("%w: anchor id %s already tracked", ErrStoreUnavailable, id)
	}

	if err := e.store.AddAnchor(ctx, id, c.Primitive.Extrinsics()); err != nil {
		e.logger.Warn("anchor add failed, detection discarded",
			zap.String("id", string(id)), zap.String("name", name), zap.Error(err))
		// The caller's ctx may be the reason for the failure.
		_ = e.do(context.WithoutCancel(ctx), func() { delete(e.pending, id) })
		return "", fmt.Errorf("%w: add anchor: %w", ErrStoreUnavailable, err)
	}
	e.logger.Info("anchor requested", zap.String("id", string(id)), zap.String("name", name))
	return id, nil
}

// RemoveRecord drops id locally, then asks the store to remove its anchor.
// A store failure is logged and returned but local state is not restored.
// Unknown ids are ignored.
func (e *Engine) RemoveRecord(ctx context.Context, id AnchorID) error {
	var tracked bool
	if err := e.do(ctx, func() { tracked = e.drop(id) }); err != nil {
		return err
	}
	if !tracked {
		return nil
	}
	return e.removeFromStore(ctx, id)
}

// ResetAll removes every tracked record and requests removal of each anchor.
// The tables end up empty even when some store requests fail; the failures
// are joined into the returned error.
func (e *Engine) ResetAll(ctx context.Context) error {
	var ids []AnchorID
	err := e.do(ctx, func() {
		ids = e.trackedIDs()
		for _, id := range ids {
			e.drop(id)
		}
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := e.removeFromStore(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Info("registry reset", zap.Int("records", len(ids)), zap.Int("failures", len(errs)))
	return errors.Join(errs...)
}

// Snapshot returns the persistent records ordered by name.
func (e *Engine) Snapshot(ctx context.Context) ([]Record, error) {
	var out []Record
	err := e.do(ctx, func() {
		out = make([]Record, 0, len(e.persistent))
		for _, r := range e.persistent {
			out = append(out, r)
		}
	})
	SortRecords(out)
	return out, err
}

// DurableSnapshot returns the records that should survive a restart: the
// persistent table plus restorable records whose anchors were not replayed.
func (e *Engine) DurableSnapshot(ctx context.Context) (map[AnchorID]Record, error) {
	var out map[AnchorID]Record
	err := e.do(ctx, func() {
		out = make(map[AnchorID]Record, len(e.persistent)+len(e.restorable))
		for id, r := range e.restorable {
			out[id] = r
		}
		for id, r := range e.persistent {
			out[id] = r
		}
	})
	return out, err
}

// Get returns the persistent record for id.
func (e *Engine) Get(ctx context.Context, id AnchorID) (Record, bool, error) {
	var (
		r  Record
		ok bool
	)
	err := e.do(ctx, func() { r, ok = e.persistent[id] })
	return r, ok, err
}

// StateOf reports which table holds id.
func (e *Engine) StateOf(ctx context.Context, id AnchorID) (State, error) {
	state := StateAbsent
	err := e.do(ctx, func() {
		if _, ok := e.pending[id]; ok {
			state = StatePending
		} else if _, ok := e.persistent[id]; ok {
			state = StatePersistent
		}
	})
	return state, err
}

// Counts reports the size of each table.
func (e *Engine) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := e.do(ctx, func() {
		c = Counts{Pending: len(e.pending), Persistent: len(e.persistent), Restorable: len(e.restorable)}
	})
	return c, err
}

func (e *Engine) handleEvent(ctx context.Context, ev AnchorEvent) {
	e.logger.Debug("anchor event", zap.Stringer("type", ev.Type), zap.String("id", string(ev.ID)))
	switch ev.Type {
	case AnchorAdded:
		e.onAdded(ctx, ev)
	case AnchorUpdated:
		e.onUpdated(ev)
	case AnchorRemoved:
		if e.drop(ev.ID) {
			e.logger.Info("anchor removed by store", zap.String("id", string(ev.ID)))
		}
	default:
		e.logger.Warn("unknown anchor event", zap.Stringer("type", ev.Type))
	}
}

func (e *Engine) onAdded(ctx context.Context, ev AnchorEvent) {
	if r, ok := e.pending[ev.ID]; ok {
		delete(e.pending, ev.ID)
		r = r.WithPose(ev.Pose)
		e.persistent[ev.ID] = r
		e.logger.Info("captured", zap.String("id", string(ev.ID)), zap.String("name", r.Name))
		e.notify(Notification{Kind: Captured, ID: ev.ID, Record: r})
		return
	}

	// At-least-once delivery: a repeated add is a pose refresh.
	if _, ok := e.persistent[ev.ID]; ok {
		e.onUpdated(ev)
		return
	}

	if r, ok := e.restorable[ev.ID]; ok {
		delete(e.restorable, ev.ID)
		r = r.WithPose(ev.Pose)
		e.persistent[ev.ID] = r
		e.logger.Info("restored from previous session", zap.String("id", string(ev.ID)), zap.String("name", r.Name))
		e.notify(Notification{Kind: Restored, ID: ev.ID, Record: r})
		return
	}

	e.logger.Warn("requesting removal of undescribed anchor",
		zap.String("id", string(ev.ID)), zap.Error(ErrOrphanedAnchor))
	e.notify(Notification{Kind: Orphaned, ID: ev.ID})
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		if err := e.store.RemoveAnchor(ctx, ev.ID); err != nil {
			e.logger.Warn("orphan removal failed", zap.String("id", string(ev.ID)), zap.Error(err))
		}
	}()
}

func (e *Engine) onUpdated(ev AnchorEvent) {
	r, ok := e.persistent[ev.ID]
	if !ok {
		e.logger.Debug("update for untracked anchor ignored", zap.String("id", string(ev.ID)))
		return
	}
	r = r.WithPose(ev.Pose)
	e.persistent[ev.ID] = r
	e.notify(Notification{Kind: Updated, ID: ev.ID, Record: r})
}

// drop removes id from every table and reports whether it was tracked.
func (e *Engine) drop(id AnchorID) bool {
	r, ok := e.forget(id)
	if ok {
		e.notify(Notification{Kind: Removed, ID: id, Record: r})
	}
	return ok
}

func (e *Engine) tracks(id AnchorID) bool {
	for _, table := range []map[AnchorID]Record{e.pending, e.persistent, e.restorable} {
		if _, ok := table[id]; ok {
			return true
		}
	}
	return false
}

func (e *Engine) forget(id AnchorID) (Record, bool) {
	for _, table := range []map[AnchorID]Record{e.pending, e.persistent, e.restorable} {
		if r, ok := table[id]; ok {
			delete(table, id)
			return r, true
		}
	}
	return Record{}, false
}

func (e *Engine) removeFromStore(ctx context.Context, id AnchorID) error {
	if err := e.store.RemoveAnchor(ctx, id); err != nil {
		e.logger.Warn("anchor removal failed, local removal kept",
			zap.String("id", string(id)), zap.Error(err))
		return fmt.Errorf("%w: remove anchor %s: %w", ErrStoreUnavailable, id, err)
	}
	return nil
}

func (e *Engine) trackedIDs() []AnchorID {
	ids := make([]AnchorID, 0, len(e.pending)+len(e.persistent)+len(e.restorable))
	for _, table := range []map[AnchorID]Record{e.persistent, e.pending, e.restorable} {
		for id := range table {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) notify(n Notification) {
	e.lmu.RLock()
	listeners := e.listeners
	e.lmu.RUnlock()
	for _, l := range listeners {
		l(n)
	}
}

// SortRecords orders records by display name, then id.
func SortRecords(rs []Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Name != rs[j].Name {
			return rs[i].Name < rs[j].Name
		}
		return rs[i].ID < rs[j].ID
	})
}
