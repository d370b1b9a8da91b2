package registry

import (
	"context"
	"fmt"

	"github.com/kwv/anchormesh/geometry"
)

// AnchorEventType is the lifecycle transition reported by an anchor store.
type AnchorEventType int

const (
	AnchorAdded AnchorEventType = iota + 1
	AnchorUpdated
	AnchorRemoved
)

func (t AnchorEventType) String() string {
	switch t {
	case AnchorAdded:
		return "added"
	case AnchorUpdated:
		return "updated"
	case AnchorRemoved:
		return "removed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

func (t AnchorEventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *AnchorEventType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "added":
		*t = AnchorAdded
	case "updated":
		*t = AnchorUpdated
	case "removed":
		*t = AnchorRemoved
	default:
		return fmt.Errorf("unknown anchor event %q", text)
	}
	return nil
}

// AnchorEvent is one entry of an anchor store's event stream.
type AnchorEvent struct {
	Type AnchorEventType `json:"event"`
	ID   AnchorID        `json:"id"`
	Pose geometry.Pose   `json:"pose"`
}

// AnchorStore is the platform service that persists world anchors.
//
// NewAnchorID reserves the id the next anchor will be stored under, so the
// caller can track it before the add round trip completes. AddAnchor returns
// once the request is accepted; persistence is confirmed later by an added
// event. Events delivers lifecycle events in emission order and may replay
// previously known anchors when the stream starts. Delivery is at-least-once.
type AnchorStore interface {
	NewAnchorID() AnchorID
	AddAnchor(ctx context.Context, id AnchorID, pose geometry.Pose) error
	RemoveAnchor(ctx context.Context, id AnchorID) error
	Events() <-chan AnchorEvent
}
