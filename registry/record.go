package registry

import (
	"encoding/json"
	"fmt"
	"image/color"
	"math"

	"github.com/kwv/anchormesh/geometry"
)

// AnchorID is the opaque identifier assigned by the anchor store.
type AnchorID string

// Record is a registered primitive bound to an anchor. Intrinsics and inliers
// never change after creation; only the pose follows store updates.
type Record struct {
	ID         AnchorID
	Name       string
	Primitive  geometry.Primitive
	Inliers    []geometry.Vec3 // local frame
	RMSError   float64
	TorusBegin float64 // radians, tori only
	TorusDelta float64 // radians, tori only
}

// NewRecord builds a record from a normalized candidate.
func NewRecord(id AnchorID, name string, c geometry.Candidate) Record {
	return Record{
		ID:         id,
		Name:       name,
		Primitive:  c.Primitive,
		Inliers:    c.Inliers,
		RMSError:   c.RMSError,
		TorusBegin: c.TorusBegin,
		TorusDelta: c.TorusDelta,
	}
}

// Kind returns the record's primitive kind.
func (r Record) Kind() geometry.Kind {
	if r.Primitive == nil {
		return geometry.KindNone
	}
	return r.Primitive.Kind()
}

// Pose returns the primitive's world pose.
func (r Record) Pose() geometry.Pose {
	if r.Primitive == nil {
		return geometry.Pose{}
	}
	return r.Primitive.Extrinsics()
}

// WithPose returns a copy of r moved to pose.
func (r Record) WithPose(pose geometry.Pose) Record {
	if r.Primitive != nil {
		r.Primitive = r.Primitive.WithPose(pose)
	}
	return r
}

// Color returns the display colour for the record's kind.
func (r Record) Color() color.RGBA {
	return KindColor(r.Kind())
}

// Summary is a one-line description used in logs and the inspect command.
func (r Record) Summary() string {
	if r.Primitive == nil {
		return fmt.Sprintf("%s: <empty>", r.Name)
	}
	s := fmt.Sprintf("%s: %s rms=%.4fm", r.Name, r.Primitive.Summary(), r.RMSError)
	if r.Kind() == geometry.KindTorus {
		s += fmt.Sprintf(" arc=%.1f° from %.1f°", r.TorusDelta*180/math.Pi, r.TorusBegin*180/math.Pi)
	}
	return s
}

var kindColors = map[geometry.Kind]color.RGBA{
	geometry.KindPlane:    {R: 220, G: 50, B: 47, A: 255},
	geometry.KindSphere:   {R: 60, G: 170, B: 60, A: 255},
	geometry.KindCylinder: {R: 140, G: 70, B: 180, A: 255},
	geometry.KindCone:     {R: 40, G: 190, B: 210, A: 255},
	geometry.KindTorus:    {R: 235, G: 200, B: 30, A: 255},
}

// KindColor returns the display colour for a kind, grey for anything else.
func KindColor(k geometry.Kind) color.RGBA {
	if c, ok := kindColors[k]; ok {
		return c
	}
	return color.RGBA{R: 128, G: 128, B: 128, A: 255}
}

type recordJSON struct {
	ID         AnchorID        `json:"id"`
	Name       string          `json:"displayName"`
	Primitive  geometry.Shape  `json:"primitive"`
	Inliers    []geometry.Vec3 `json:"inlierPoints"`
	RMSError   float64         `json:"rmsError"`
	TorusBegin *float64        `json:"torusAngularBegin,omitempty"`
	TorusDelta *float64        `json:"torusAngularDelta,omitempty"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:        r.ID,
		Name:      r.Name,
		Primitive: geometry.Shape{Primitive: r.Primitive},
		Inliers:   r.Inliers,
		RMSError:  r.RMSError,
	}
	if out.Inliers == nil {
		out.Inliers = []geometry.Vec3{}
	}
	if r.Kind() == geometry.KindTorus {
		begin, delta := r.TorusBegin, r.TorusDelta
		out.TorusBegin, out.TorusDelta = &begin, &delta
	}
	return json.Marshal(out)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.Primitive.Primitive == nil {
		return fmt.Errorf("record %q has no primitive", in.ID)
	}
	*r = Record{
		ID:        in.ID,
		Name:      in.Name,
		Primitive: in.Primitive.Primitive,
		Inliers:   in.Inliers,
		RMSError:  in.RMSError,
	}
	if r.Inliers == nil {
		r.Inliers = []geometry.Vec3{}
	}
	if in.TorusBegin != nil {
		r.TorusBegin = *in.TorusBegin
	}
	if in.TorusDelta != nil {
		r.TorusDelta = *in.TorusDelta
	}
	return nil
}
