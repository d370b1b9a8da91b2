package geometry

import (
	"errors"
	"fmt"
	"math"
)

// ConversionPolicy controls ambiguous-kind substitution and the post-fit
// completion of partial cones and tori.
type ConversionPolicy struct {
	AllowConeToCylinder         bool    `yaml:"allowConeToCylinder" json:"allowConeToCylinder"`
	AllowTorusToCylinder        bool    `yaml:"allowTorusToCylinder" json:"allowTorusToCylinder"`
	AllowTorusToSphere          bool    `yaml:"allowTorusToSphere" json:"allowTorusToSphere"`
	AutoApplyWithoutPrompt      bool    `yaml:"autoApplyWithoutPrompt" json:"autoApplyWithoutPrompt"`
	EnableFullTorusCompletion   bool    `yaml:"enableFullTorusCompletion" json:"enableFullTorusCompletion"`
	FullTorusAngleThreshold     float64 `yaml:"fullTorusAngleThreshold" json:"fullTorusAngleThreshold"` // radians
	EnableFullConeCapping       bool    `yaml:"enableFullConeCapping" json:"enableFullConeCapping"`
	FullConeRadiiRatioThreshold float64 `yaml:"fullConeRadiiRatioThreshold" json:"fullConeRadiiRatioThreshold"`
}

// DefaultConversionPolicy mirrors the defaults shipped with the scanning app.
func DefaultConversionPolicy() ConversionPolicy {
	return ConversionPolicy{
		AllowConeToCylinder:         true,
		AllowTorusToCylinder:        true,
		AllowTorusToSphere:          true,
		AutoApplyWithoutPrompt:      false,
		EnableFullTorusCompletion:   true,
		FullTorusAngleThreshold:     1.5 * math.Pi,
		EnableFullConeCapping:       true,
		FullConeRadiiRatioThreshold: 0.1,
	}
}

// Validate checks threshold ranges.
func (p ConversionPolicy) Validate() error {
	if p.FullTorusAngleThreshold <= 0 || p.FullTorusAngleThreshold > 2*math.Pi {
		return fmt.Errorf("fullTorusAngleThreshold must be in (0, 2π], got %v", p.FullTorusAngleThreshold)
	}
	if p.FullConeRadiiRatioThreshold < 0 || p.FullConeRadiiRatioThreshold > 1 {
		return fmt.Errorf("fullConeRadiiRatioThreshold must be in [0, 1], got %v", p.FullConeRadiiRatioThreshold)
	}
	return nil
}

// Candidate is a normalized detection ready to be registered. Inliers are
// expressed in the primitive's local frame. TorusBegin and TorusDelta are only
// set for tori.
type Candidate struct {
	Primitive  Primitive
	Inliers    []Vec3
	RMSError   float64
	TorusBegin float64
	TorusDelta float64
}

// ErrNothingFound is returned by Normalize for an empty fit result.
var ErrNothingFound = errors.New("geometry: no primitive found")

// horizontalPlaneCos is cos(15°): planes whose normal is within 15° of
// vertical are treated as floors, tables and ceilings.
var horizontalPlaneCos = math.Cos(math.Pi / 12)

// Normalize turns a raw fit result into a canonical candidate: consistent
// axis and normal orientation, optional full-cone capping, torus arc
// estimation and full-torus completion, and inliers re-expressed locally.
func Normalize(result FitResult, devicePosition Vec3, policy ConversionPolicy) (Candidate, error) {
	if result.Primitive == nil {
		return Candidate{}, ErrNothingFound
	}

	pose, err := result.Primitive.Extrinsics().Orthonormalized()
	if err != nil {
		return Candidate{}, fmt.Errorf("normalize %s: %w", result.Primitive.Kind(), err)
	}

	var prim Primitive
	switch p := result.Primitive.WithPose(pose).(type) {
	case Plane:
		prim = alignPlane(p, devicePosition)
	case Sphere:
		p.Pose = Translation(p.Pose.Position)
		prim = p
	case Cylinder:
		p.Pose = canonicalAxis(p.Pose)
		prim = p
	case Cone:
		prim = capCone(alignCone(p), policy)
	case Torus:
		p.Pose = canonicalAxis(p.Pose)
		prim = p
	default:
		return Candidate{}, fmt.Errorf("normalize: unsupported primitive %T", p)
	}

	if err := prim.Validate(); err != nil {
		return Candidate{}, fmt.Errorf("normalize %s: %w", prim.Kind(), err)
	}

	local := make([]Vec3, len(result.Inliers))
	extrinsics := prim.Extrinsics()
	for i, pt := range result.Inliers {
		local[i] = extrinsics.ToLocal(pt)
	}

	c := Candidate{
		Primitive: prim,
		Inliers:   local,
		RMSError:  result.RMSError,
	}
	if prim.Kind() == KindTorus {
		c.TorusBegin, c.TorusDelta = TorusAngleRange(local)
		if policy.EnableFullTorusCompletion && c.TorusDelta > policy.FullTorusAngleThreshold {
			c.TorusDelta = FullTurn
		}
	}
	return c, nil
}

// canonicalAxis flips the pose about Right when its Up axis points "down".
// The first significant component in Y, X, Z order decides; a zero vector is
// left untouched.
func canonicalAxis(pose Pose) Pose {
	const eps = 1e-9
	for _, c := range []float64{pose.Up.Y, pose.Up.X, pose.Up.Z} {
		if math.Abs(c) <= eps {
			continue
		}
		if c < 0 {
			return pose.FlippedAboutRight()
		}
		return pose
	}
	return pose
}

// alignPlane turns the plane's normal toward the observer, then rotates the
// in-plane basis by a multiple of 90° so that local +Z (the Height direction)
// points up the wall for vertical planes, or away from the observer for
// horizontal ones.
func alignPlane(p Plane, observer Vec3) Plane {
	toObserver := observer.Sub(p.Pose.Position)
	if p.Pose.Up.Dot(toObserver) < 0 {
		p.Pose = p.Pose.FlippedAboutRight()
	}

	var ref Vec3
	if math.Abs(p.Pose.Up.Y) > horizontalPlaneCos {
		away := toObserver.Neg()
		ref = Vec3{X: away.X, Z: away.Z}.Normalize()
	} else {
		ref = WorldUp
	}
	if ref == (Vec3{}) {
		return p
	}

	right, forward := p.Pose.Right, p.Pose.Forward
	width, height := p.Width, p.Height
	best := forward.Dot(ref)
	// Quarter turns about Up: (R, F) -> (F, -R) swaps the extents.
	candidates := []struct {
		right, forward Vec3
		swap           bool
	}{
		{forward, right.Neg(), true},
		{right.Neg(), forward.Neg(), false},
		{forward.Neg(), right, true},
	}
	for _, c := range candidates {
		if score := c.forward.Dot(ref); score > best+1e-9 {
			best = score
			p.Pose.Right, p.Pose.Forward = c.right, c.forward
			if c.swap {
				p.Width, p.Height = height, width
			} else {
				p.Width, p.Height = width, height
			}
		}
	}
	return p
}

// alignCone orients the axis from the narrow end toward the wide end,
// swapping the radii when the fit reported them the other way round.
func alignCone(c Cone) Cone {
	if c.TopRadius > c.BottomRadius {
		c.Pose = c.Pose.FlippedAboutRight()
		c.TopRadius, c.BottomRadius = c.BottomRadius, c.TopRadius
	}
	return c
}

// capCone replaces a nearly-pointed frustum by the full cone with the same
// slope. The pose moves by -axis*d/2 so the base stays where it was.
func capCone(c Cone, policy ConversionPolicy) Cone {
	if !policy.EnableFullConeCapping || c.BottomRadius <= c.TopRadius {
		return c
	}
	if c.TopRadius/c.BottomRadius > policy.FullConeRadiiRatioThreshold {
		return c
	}
	slope := c.Height / (c.BottomRadius - c.TopRadius)
	newHeight := c.BottomRadius * slope
	displacement := math.Abs(newHeight - c.Height)
	c.Pose = c.Pose.Translated(c.Axis().Scale(-displacement * 0.5))
	c.TopRadius = 0
	c.Height = newHeight
	return c
}
