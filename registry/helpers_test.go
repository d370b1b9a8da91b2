package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/kwv/anchormesh/geometry"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// noteRecorder collects engine notifications.
type noteRecorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *noteRecorder) add(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *noteRecorder) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notes))
	copy(out, r.notes)
	return out
}

func (r *noteRecorder) kinds(id AnchorID) []NotificationKind {
	var out []NotificationKind
	for _, n := range r.all() {
		if n.ID == id {
			out = append(out, n.Kind)
		}
	}
	return out
}

type harness struct {
	store  *MemoryAnchorStore
	engine *Engine
	notes  *noteRecorder
	ctx    context.Context
}

// startEngine runs an engine over store until the test ends. Preloaded
// records are installed before the loop starts.
func startEngine(t *testing.T, store *MemoryAnchorStore, preload map[AnchorID]Record) *harness {
	t.Helper()
	e := NewEngine(store, zaptest.NewLogger(t))
	notes := &noteRecorder{}
	e.AddListener(notes.add)
	if preload != nil {
		require.NoError(t, e.Preload(preload))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		store.Close()
	})
	return &harness{store: store, engine: e, notes: notes, ctx: context.Background()}
}

func (h *harness) state(t *testing.T, id AnchorID) State {
	t.Helper()
	s, err := h.engine.StateOf(h.ctx, id)
	require.NoError(t, err)
	return s
}

func (h *harness) waitState(t *testing.T, id AnchorID, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := h.engine.StateOf(h.ctx, id)
		return err == nil && s == want
	}, waitFor, tick, "anchor %s never reached %s", id, want)
}

func (h *harness) counts(t *testing.T) Counts {
	t.Helper()
	c, err := h.engine.Counts(h.ctx)
	require.NoError(t, err)
	return c
}

// capture submits c and confirms it through the store.
func (h *harness) capture(t *testing.T, c geometry.Candidate) AnchorID {
	t.Helper()
	id, err := h.engine.Submit(h.ctx, c)
	require.NoError(t, err)
	require.NoError(t, h.store.Confirm(id))
	h.waitState(t, id, StatePersistent)
	return id
}

func poseAt(x, y, z float64) geometry.Pose {
	return geometry.Translation(geometry.V(x, y, z))
}

func planeCandidate(x float64) geometry.Candidate {
	return geometry.Candidate{
		Primitive: geometry.Plane{Width: 1, Height: 2, Pose: poseAt(x, 0, 0)},
		Inliers:   []geometry.Vec3{geometry.V(0.1, 0, 0.2)},
		RMSError:  0.003,
	}
}

func coneCandidate() geometry.Candidate {
	return geometry.Candidate{
		Primitive: geometry.Cone{TopRadius: 0, BottomRadius: 0.5, Height: 1.2, Pose: poseAt(0, 1, 0)},
		Inliers:   []geometry.Vec3{},
		RMSError:  0.01,
	}
}

func torusCandidate() geometry.Candidate {
	return geometry.Candidate{
		Primitive:  geometry.Torus{MeanRadius: 0.4, TubeRadius: 0.05, Pose: poseAt(1, 1, 1)},
		Inliers:    []geometry.Vec3{geometry.V(0.4, 0, 0)},
		RMSError:   0.002,
		TorusBegin: 0.25,
		TorusDelta: 1.5,
	}
}

// verifyNoLeaks fails the test if goroutines started during it outlive its
// cleanups. Call it first so its cleanup runs last.
func verifyNoLeaks(t *testing.T) {
	t.Helper()
	opt := goleak.IgnoreCurrent()
	t.Cleanup(func() { goleak.VerifyNone(t, opt) })
}
