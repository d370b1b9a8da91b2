package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/kwv/anchormesh/geometry"
)

// MemoryAnchorStore is an in-process AnchorStore. With autoConfirm set every
// accepted add is confirmed immediately; otherwise Confirm must be called.
// It backs the service when no broker is configured and drives the tests.
type MemoryAnchorStore struct {
	mu          sync.Mutex
	anchors     map[AnchorID]geometry.Pose
	autoConfirm bool
	addErr      error
	removeErr   error
	failRemove  map[AnchorID]error
	addCalls    int
	removeCalls []AnchorID
	queue       *eventQueue
}

// NewMemoryAnchorStore creates an empty store.
func NewMemoryAnchorStore(autoConfirm bool) *MemoryAnchorStore {
	return &MemoryAnchorStore{
		anchors:     make(map[AnchorID]geometry.Pose),
		autoConfirm: autoConfirm,
		failRemove:  make(map[AnchorID]error),
		queue:       newEventQueue(),
	}
}

func (s *MemoryAnchorStore) NewAnchorID() AnchorID {
	return AnchorID(uuid.NewString())
}

func (s *MemoryAnchorStore) AddAnchor(ctx context.Context, id AnchorID, pose geometry.Pose) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.addCalls++
	if s.addErr != nil {
		return s.addErr
	}
	if _, ok := s.anchors[id]; ok {
		return fmt.Errorf("anchor %s already exists", id)
	}
	s.anchors[id] = pose
	if s.autoConfirm {
		s.queue.push(AnchorEvent{Type: AnchorAdded, ID: id, Pose: pose})
	}
	return nil
}

func (s *MemoryAnchorStore) RemoveAnchor(ctx context.Context, id AnchorID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeCalls = append(s.removeCalls, id)
	if err, ok := s.failRemove[id]; ok {
		return err
	}
	if s.removeErr != nil {
		return s.removeErr
	}
	if _, ok := s.anchors[id]; !ok {
		return nil
	}
	delete(s.anchors, id)
	s.queue.push(AnchorEvent{Type: AnchorRemoved, ID: id})
	return nil
}

func (s *MemoryAnchorStore) Events() <-chan AnchorEvent {
	return s.queue.out
}

// Close ends the event stream.
func (s *MemoryAnchorStore) Close() {
	s.queue.close()
}

// Seed registers an anchor left over from a previous session without
// emitting an event. Call Replay to announce it.
func (s *MemoryAnchorStore) Seed(id AnchorID, pose geometry.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[id] = pose
}

// Replay emits an added event for every known anchor in id order, the way a
// platform store announces persisted anchors when tracking resumes.
func (s *MemoryAnchorStore) Replay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]AnchorID, 0, len(s.anchors))
	for id := range s.anchors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		s.queue.push(AnchorEvent{Type: AnchorAdded, ID: id, Pose: s.anchors[id]})
	}
}

// Confirm emits the added event for an anchor accepted earlier.
func (s *MemoryAnchorStore) Confirm(id AnchorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pose, ok := s.anchors[id]
	if !ok {
		return fmt.Errorf("anchor %s not found", id)
	}
	s.queue.push(AnchorEvent{Type: AnchorAdded, ID: id, Pose: pose})
	return nil
}

// Move updates an anchor's pose and emits an updated event.
func (s *MemoryAnchorStore) Move(id AnchorID, pose geometry.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anchors[id] = pose
	s.queue.push(AnchorEvent{Type: AnchorUpdated, ID: id, Pose: pose})
}

// Emit injects a raw event.
func (s *MemoryAnchorStore) Emit(ev AnchorEvent) {
	s.queue.push(ev)
}

// SetAddError makes every subsequent AddAnchor fail with err (nil clears).
func (s *MemoryAnchorStore) SetAddError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addErr = err
}

// SetRemoveError makes every subsequent RemoveAnchor fail with err (nil clears).
func (s *MemoryAnchorStore) SetRemoveError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeErr = err
}

// FailRemove makes RemoveAnchor fail for one id.
func (s *MemoryAnchorStore) FailRemove(id AnchorID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRemove[id] = err
}

// Has reports whether the store currently holds id.
func (s *MemoryAnchorStore) Has(id AnchorID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.anchors[id]
	return ok
}

// Len returns the number of anchors held.
func (s *MemoryAnchorStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.anchors)
}

// AddCalls returns how many times AddAnchor was called.
func (s *MemoryAnchorStore) AddCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCalls
}

// RemoveCalls returns the ids passed to RemoveAnchor, in call order.
func (s *MemoryAnchorStore) RemoveCalls() []AnchorID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AnchorID, len(s.removeCalls))
	copy(out, s.removeCalls)
	return out
}
