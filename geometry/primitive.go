package geometry

import (
	"fmt"
	"math"
	"strings"
)

// Kind identifies a primitive type. KindNone is a fit that found nothing and
// KindAny is only meaningful as a detection target.
type Kind int

const (
	KindNone Kind = iota
	KindPlane
	KindSphere
	KindCylinder
	KindCone
	KindTorus
	KindAny
)

var kindNames = [...]string{
	KindNone:     "none",
	KindPlane:    "plane",
	KindSphere:   "sphere",
	KindCylinder: "cylinder",
	KindCone:     "cone",
	KindTorus:    "torus",
	KindAny:      "any",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Title returns the capitalized kind name used in display names.
func (k Kind) Title() string {
	s := k.String()
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return KindNone, fmt.Errorf("unknown primitive kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Primitive is one of Plane, Sphere, Cylinder, Cone or Torus. Intrinsic
// parameters are held by the concrete type; the extrinsic pose is shared.
type Primitive interface {
	Kind() Kind
	Extrinsics() Pose
	WithPose(Pose) Primitive
	Center() Vec3
	Validate() error
	Summary() string

	isPrimitive()
}

// Plane is a rectangle in its local XZ plane with the normal along local +Y.
// Width spans local X and Height spans local Z.
type Plane struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Pose   Pose    `json:"pose"`
}

// Sphere has no privileged axis; only its position is meaningful.
type Sphere struct {
	Radius float64 `json:"radius"`
	Pose   Pose    `json:"pose"`
}

// Cylinder is centered on its pose with its axis along local +Y.
type Cylinder struct {
	Radius float64 `json:"radius"`
	Height float64 `json:"height"`
	Pose   Pose    `json:"pose"`
}

// Cone is a (possibly truncated) cone centered on its pose. Local +Y points
// from the top cap toward the base, so the top is at -Height/2 and the base at
// +Height/2 along the axis.
type Cone struct {
	TopRadius    float64 `json:"topRadius"`
	BottomRadius float64 `json:"bottomRadius"`
	Height       float64 `json:"height"`
	Pose         Pose    `json:"pose"`
}

// Torus lies in its local XZ plane with its axis along local +Y.
type Torus struct {
	MeanRadius float64 `json:"meanRadius"`
	TubeRadius float64 `json:"tubeRadius"`
	Pose       Pose    `json:"pose"`
}

func (Plane) Kind() Kind    { return KindPlane }
func (Sphere) Kind() Kind   { return KindSphere }
func (Cylinder) Kind() Kind { return KindCylinder }
func (Cone) Kind() Kind     { return KindCone }
func (Torus) Kind() Kind    { return KindTorus }

func (p Plane) Extrinsics() Pose    { return p.Pose }
func (s Sphere) Extrinsics() Pose   { return s.Pose }
func (c Cylinder) Extrinsics() Pose { return c.Pose }
func (c Cone) Extrinsics() Pose     { return c.Pose }
func (t Torus) Extrinsics() Pose    { return t.Pose }

func (p Plane) WithPose(pose Pose) Primitive    { p.Pose = pose; return p }
func (s Sphere) WithPose(pose Pose) Primitive   { s.Pose = pose; return s }
func (c Cylinder) WithPose(pose Pose) Primitive { c.Pose = pose; return c }
func (c Cone) WithPose(pose Pose) Primitive     { c.Pose = pose; return c }
func (t Torus) WithPose(pose Pose) Primitive    { t.Pose = pose; return t }

func (p Plane) Center() Vec3    { return p.Pose.Position }
func (s Sphere) Center() Vec3   { return s.Pose.Position }
func (c Cylinder) Center() Vec3 { return c.Pose.Position }
func (c Cone) Center() Vec3     { return c.Pose.Position }
func (t Torus) Center() Vec3    { return t.Pose.Position }

func (Plane) isPrimitive()    {}
func (Sphere) isPrimitive()   {}
func (Cylinder) isPrimitive() {}
func (Cone) isPrimitive()     {}
func (Torus) isPrimitive()    {}

// Normal is the plane's unit normal.
func (p Plane) Normal() Vec3 { return p.Pose.Up }

// Corners returns the four rectangle corners in world space, counter-clockwise
// when viewed from the side the normal points to.
func (p Plane) Corners() [4]Vec3 {
	hw, hh := p.Width/2, p.Height/2
	return [4]Vec3{
		p.Pose.ToWorld(Vec3{X: -hw, Z: -hh}),
		p.Pose.ToWorld(Vec3{X: -hw, Z: hh}),
		p.Pose.ToWorld(Vec3{X: hw, Z: hh}),
		p.Pose.ToWorld(Vec3{X: hw, Z: -hh}),
	}
}

func (c Cylinder) Axis() Vec3   { return c.Pose.Up }
func (c Cylinder) Top() Vec3    { return c.Pose.ToWorld(Vec3{Y: c.Height / 2}) }
func (c Cylinder) Bottom() Vec3 { return c.Pose.ToWorld(Vec3{Y: -c.Height / 2}) }

// Axis points from the cone's top cap toward its base.
func (c Cone) Axis() Vec3   { return c.Pose.Up }
func (c Cone) Top() Vec3    { return c.Pose.ToWorld(Vec3{Y: -c.Height / 2}) }
func (c Cone) Bottom() Vec3 { return c.Pose.ToWorld(Vec3{Y: c.Height / 2}) }

func (t Torus) Axis() Vec3 { return t.Pose.Up }

// OuterRadius is the distance from the axis to the farthest tube surface.
func (t Torus) OuterRadius() float64 { return t.MeanRadius + t.TubeRadius }

func (p Plane) Validate() error {
	return validate(p.Pose, map[string]float64{"width": p.Width, "height": p.Height})
}

func (s Sphere) Validate() error {
	return validate(s.Pose, map[string]float64{"radius": s.Radius})
}

func (c Cylinder) Validate() error {
	return validate(c.Pose, map[string]float64{"radius": c.Radius, "height": c.Height})
}

func (c Cone) Validate() error {
	return validate(c.Pose, map[string]float64{
		"topRadius":    c.TopRadius,
		"bottomRadius": c.BottomRadius,
		"height":       c.Height,
	})
}

func (t Torus) Validate() error {
	return validate(t.Pose, map[string]float64{"meanRadius": t.MeanRadius, "tubeRadius": t.TubeRadius})
}

const basisTolerance = 1e-4

func validate(pose Pose, params map[string]float64) error {
	for name, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("invalid %s: %v", name, v)
		}
	}
	if !pose.IsOrthonormal(basisTolerance) {
		return fmt.Errorf("pose basis is not orthonormal")
	}
	return nil
}

func (p Plane) Summary() string {
	return fmt.Sprintf("w=%.3fm h=%.3fm at %s normal %s", p.Width, p.Height, p.Center(), p.Normal())
}

func (s Sphere) Summary() string {
	return fmt.Sprintf("r=%.3fm at %s", s.Radius, s.Center())
}

func (c Cylinder) Summary() string {
	return fmt.Sprintf("r=%.3fm h=%.3fm at %s axis %s", c.Radius, c.Height, c.Center(), c.Axis())
}

func (c Cone) Summary() string {
	return fmt.Sprintf("rt=%.3fm rb=%.3fm h=%.3fm at %s axis %s",
		c.TopRadius, c.BottomRadius, c.Height, c.Center(), c.Axis())
}

func (t Torus) Summary() string {
	return fmt.Sprintf("R=%.3fm r=%.3fm at %s axis %s", t.MeanRadius, t.TubeRadius, t.Center(), t.Axis())
}
