package geometry

import (
	"errors"
	"math"
)

// Pose is a rigid transform from a primitive's local frame to world space.
// Right, Up and Forward are the images of the local +X, +Y and +Z axes and
// form a right-handed orthonormal basis (Right x Up = Forward).
type Pose struct {
	Position Vec3 `json:"position"`
	Right    Vec3 `json:"right"`
	Up       Vec3 `json:"up"`
	Forward  Vec3 `json:"forward"`
}

// ErrDegeneratePose is returned when a basis cannot be orthonormalized.
var ErrDegeneratePose = errors.New("geometry: degenerate pose basis")

// IdentityPose returns a pose at the origin aligned with the world axes.
func IdentityPose() Pose {
	return Pose{
		Right:   Vec3{X: 1},
		Up:      Vec3{Y: 1},
		Forward: Vec3{Z: 1},
	}
}

// Translation returns an axis-aligned pose located at p.
func Translation(p Vec3) Pose {
	pose := IdentityPose()
	pose.Position = p
	return pose
}

// ToWorld maps a local-frame point into world space.
func (p Pose) ToWorld(local Vec3) Vec3 {
	return p.Position.
		Add(p.Right.Scale(local.X)).
		Add(p.Up.Scale(local.Y)).
		Add(p.Forward.Scale(local.Z))
}

// ToLocal maps a world-space point into the local frame. Only valid for
// orthonormal bases, where the inverse rotation is the transpose.
func (p Pose) ToLocal(world Vec3) Vec3 {
	d := world.Sub(p.Position)
	return Vec3{X: d.Dot(p.Right), Y: d.Dot(p.Up), Z: d.Dot(p.Forward)}
}

// Translated moves the pose by d in world space.
func (p Pose) Translated(d Vec3) Pose {
	p.Position = p.Position.Add(d)
	return p
}

// FlippedAboutRight rotates the basis 180 degrees about Right, reversing Up
// and Forward while keeping the frame right-handed.
func (p Pose) FlippedAboutRight() Pose {
	p.Up = p.Up.Neg()
	p.Forward = p.Forward.Neg()
	return p
}

// IsOrthonormal reports whether the basis vectors are unit length, mutually
// orthogonal and right-handed within tol.
func (p Pose) IsOrthonormal(tol float64) bool {
	for _, v := range []Vec3{p.Right, p.Up, p.Forward} {
		if math.Abs(v.Length()-1) > tol {
			return false
		}
	}
	if math.Abs(p.Right.Dot(p.Up)) > tol ||
		math.Abs(p.Up.Dot(p.Forward)) > tol ||
		math.Abs(p.Forward.Dot(p.Right)) > tol {
		return false
	}
	return p.Right.Cross(p.Up).ApproxEqual(p.Forward, tol)
}

// Orthonormalized re-derives a right-handed orthonormal basis with Up as the
// primary axis. Fitted poses drift slightly from orthonormal; the Up axis
// carries the primitive's meaning so it is preserved exactly.
func (p Pose) Orthonormalized() (Pose, error) {
	up := p.Up.Normalize()
	if up == (Vec3{}) {
		return p, ErrDegeneratePose
	}
	right := p.Right.Sub(up.Scale(p.Right.Dot(up))).Normalize()
	if right == (Vec3{}) {
		// Right collapsed onto Up; rebuild it from Forward instead.
		right = up.Cross(p.Forward).Normalize()
		if right == (Vec3{}) {
			right = perpendicular(up)
		}
	}
	p.Up = up
	p.Right = right
	p.Forward = right.Cross(up)
	return p, nil
}

// perpendicular returns some unit vector orthogonal to unit vector n.
func perpendicular(n Vec3) Vec3 {
	ref := Vec3{X: 1}
	if math.Abs(n.X) > 0.9 {
		ref = Vec3{Z: 1}
	}
	return ref.Sub(n.Scale(ref.Dot(n))).Normalize()
}
