package geometry

import (
	"encoding/json"
	"fmt"
)

// Shape wraps a Primitive so it can be encoded as a tagged JSON object:
//
//	{"kind": "cone", "shape": {"topRadius": ..., "pose": {...}}}
//
// A nil Primitive encodes as null.
type Shape struct {
	Primitive
}

type shapeEnvelope struct {
	Kind  Kind            `json:"kind"`
	Shape json.RawMessage `json:"shape"`
}

func (s Shape) MarshalJSON() ([]byte, error) {
	if s.Primitive == nil {
		return []byte("null"), nil
	}
	body, err := json.Marshal(s.Primitive)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", s.Primitive.Kind(), err)
	}
	return json.Marshal(shapeEnvelope{Kind: s.Primitive.Kind(), Shape: body})
}

func (s *Shape) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		s.Primitive = nil
		return nil
	}
	var env shapeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("shape envelope: %w", err)
	}

	var (
		p   Primitive
		err error
	)
	switch env.Kind {
	case KindPlane:
		var v Plane
		err = json.Unmarshal(env.Shape, &v)
		p = v
	case KindSphere:
		var v Sphere
		err = json.Unmarshal(env.Shape, &v)
		p = v
	case KindCylinder:
		var v Cylinder
		err = json.Unmarshal(env.Shape, &v)
		p = v
	case KindCone:
		var v Cone
		err = json.Unmarshal(env.Shape, &v)
		p = v
	case KindTorus:
		var v Torus
		err = json.Unmarshal(env.Shape, &v)
		p = v
	default:
		return fmt.Errorf("shape: unsupported kind %q", env.Kind)
	}
	if err != nil {
		return fmt.Errorf("shape %s: %w", env.Kind, err)
	}
	s.Primitive = p
	return nil
}
