package geometry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeNothingFound(t *testing.T) {
	_, err := Normalize(FitResult{}, Vec3{}, DefaultConversionPolicy())
	assert.ErrorIs(t, err, ErrNothingFound)
}

func TestNormalizeDegeneratePose(t *testing.T) {
	res := FitResult{Primitive: Sphere{Radius: 1, Pose: Pose{}}}
	_, err := Normalize(res, Vec3{}, DefaultConversionPolicy())
	assert.ErrorIs(t, err, ErrDegeneratePose)
}

func TestNormalizeRejectsInvalidIntrinsics(t *testing.T) {
	res := FitResult{Primitive: Cylinder{Radius: -0.1, Height: 1, Pose: IdentityPose()}}
	_, err := Normalize(res, Vec3{}, DefaultConversionPolicy())
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Sphere
// ---------------------------------------------------------------------------

func TestNormalizeSphere(t *testing.T) {
	s := math.Sqrt2 / 2
	res := FitResult{
		Primitive: Sphere{Radius: 1, Pose: Pose{
			Position: V(1, 2, 3),
			Right:    V(s, s, 0),
			Up:       V(-s, s, 0),
			Forward:  V(0, 0, 1),
		}},
		Inliers:  []Vec3{V(1, 2, 4), V(2, 2, 3)},
		RMSError: 0.004,
	}

	c, err := Normalize(res, Vec3{}, DefaultConversionPolicy())
	require.NoError(t, err)
	assert.Equal(t, Translation(V(1, 2, 3)), c.Primitive.Extrinsics())
	assert.True(t, c.Inliers[0].ApproxEqual(V(0, 0, 1), tol))
	assert.True(t, c.Inliers[1].ApproxEqual(V(1, 0, 0), tol))
	assert.Equal(t, 0.004, c.RMSError)
}

// ---------------------------------------------------------------------------
// Cylinder
// ---------------------------------------------------------------------------

func TestNormalizeCylinderAxis(t *testing.T) {
	tests := []struct {
		name   string
		pose   Pose
		wantUp Vec3
	}{
		{"already up", IdentityPose(), V(0, 1, 0)},
		{"pointing down", IdentityPose().FlippedAboutRight(), V(0, 1, 0)},
		{
			name:   "horizontal along -z",
			pose:   Pose{Right: V(1, 0, 0), Up: V(0, 0, -1), Forward: V(0, 1, 0)},
			wantUp: V(0, 0, 1),
		},
		{
			name:   "horizontal along -x",
			pose:   Pose{Right: V(0, 0, 1), Up: V(-1, 0, 0), Forward: V(0, 1, 0)},
			wantUp: V(1, 0, 0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := FitResult{Primitive: Cylinder{Radius: 0.1, Height: 1, Pose: tt.pose}}
			c, err := Normalize(res, Vec3{}, DefaultConversionPolicy())
			require.NoError(t, err)
			got := c.Primitive.(Cylinder)
			assert.True(t, got.Axis().ApproxEqual(tt.wantUp, tol), "axis %s", got.Axis())
			assert.True(t, got.Pose.IsOrthonormal(1e-9))
		})
	}
}

// ---------------------------------------------------------------------------
// Cone
// ---------------------------------------------------------------------------

func TestNormalizeConeCapping(t *testing.T) {
	policy := DefaultConversionPolicy()
	policy.FullConeRadiiRatioThreshold = 0.2

	res := FitResult{Primitive: Cone{TopRadius: 0.05, BottomRadius: 0.5, Height: 1.0, Pose: IdentityPose()}}
	c, err := Normalize(res, Vec3{}, policy)
	require.NoError(t, err)

	cone := c.Primitive.(Cone)
	slope := 1.0 / 0.45
	wantHeight := 0.5 * slope
	d := math.Abs(wantHeight - 1.0)

	assert.Equal(t, 0.0, cone.TopRadius)
	assert.Equal(t, 0.5, cone.BottomRadius)
	assert.InDelta(t, 1.1111111, cone.Height, 1e-6)
	assert.InDelta(t, wantHeight, cone.Height, tol)
	assert.True(t, cone.Pose.Position.ApproxEqual(V(0, -d/2, 0), tol), "position %s", cone.Pose.Position)
	// The base stays put.
	assert.True(t, cone.Bottom().ApproxEqual(V(0, 0.5, 0), tol), "bottom %s", cone.Bottom())
}

func TestNormalizeConeCappingSkipped(t *testing.T) {
	tests := []struct {
		name   string
		policy func(*ConversionPolicy)
		cone   Cone
	}{
		{"disabled", func(p *ConversionPolicy) { p.EnableFullConeCapping = false }, Cone{TopRadius: 0.01, BottomRadius: 0.5, Height: 1}},
		{"ratio above threshold", func(p *ConversionPolicy) {}, Cone{TopRadius: 0.2, BottomRadius: 0.5, Height: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultConversionPolicy()
			tt.policy(&policy)
			tt.cone.Pose = IdentityPose()

			c, err := Normalize(FitResult{Primitive: tt.cone}, Vec3{}, policy)
			require.NoError(t, err)
			assert.Equal(t, tt.cone, c.Primitive)
		})
	}
}

func TestNormalizeConeSwapsInvertedRadii(t *testing.T) {
	policy := DefaultConversionPolicy()
	policy.EnableFullConeCapping = false

	res := FitResult{Primitive: Cone{TopRadius: 0.5, BottomRadius: 0.2, Height: 1, Pose: IdentityPose()}}
	c, err := Normalize(res, Vec3{}, policy)
	require.NoError(t, err)

	cone := c.Primitive.(Cone)
	assert.Equal(t, 0.2, cone.TopRadius)
	assert.Equal(t, 0.5, cone.BottomRadius)
	assert.True(t, cone.Axis().ApproxEqual(V(0, -1, 0), tol))
	// The wide end is still where the fit put it.
	assert.True(t, cone.Bottom().ApproxEqual(V(0, -0.5, 0), tol))
}

// ---------------------------------------------------------------------------
// Plane
// ---------------------------------------------------------------------------

func TestNormalizePlane(t *testing.T) {
	t.Run("floor faces observer and points away", func(t *testing.T) {
		res := FitResult{
			Primitive: Plane{Width: 2, Height: 1, Pose: IdentityPose()},
			Inliers:   []Vec3{V(0.5, 0, -0.25)},
		}
		c, err := Normalize(res, V(0, 1.5, 2), DefaultConversionPolicy())
		require.NoError(t, err)

		p := c.Primitive.(Plane)
		assert.True(t, p.Normal().ApproxEqual(V(0, 1, 0), tol))
		assert.True(t, p.Pose.Forward.ApproxEqual(V(0, 0, -1), tol))
		assert.True(t, p.Pose.Right.ApproxEqual(V(-1, 0, 0), tol))
		assert.Equal(t, 2.0, p.Width)
		assert.Equal(t, 1.0, p.Height)
		assert.True(t, c.Inliers[0].ApproxEqual(V(-0.5, 0, 0.25), tol), "inlier %s", c.Inliers[0])
	})

	t.Run("ceiling seen from below flips", func(t *testing.T) {
		res := FitResult{Primitive: Plane{Width: 1, Height: 1, Pose: Translation(V(0, 2.5, 0))}}
		c, err := Normalize(res, V(0, 1.5, 0), DefaultConversionPolicy())
		require.NoError(t, err)
		assert.True(t, c.Primitive.(Plane).Normal().ApproxEqual(V(0, -1, 0), tol))
	})

	t.Run("wall forward points up", func(t *testing.T) {
		pose := Pose{Position: V(0, 1, 0), Right: V(1, 0, 0), Up: V(0, 0, 1), Forward: V(0, -1, 0)}
		res := FitResult{Primitive: Plane{Width: 2, Height: 1, Pose: pose}}
		c, err := Normalize(res, V(0, 1, 3), DefaultConversionPolicy())
		require.NoError(t, err)

		p := c.Primitive.(Plane)
		assert.True(t, p.Pose.Forward.ApproxEqual(WorldUp, tol))
		assert.True(t, p.Pose.IsOrthonormal(1e-9))
		assert.Equal(t, 2.0, p.Width)
	})

	t.Run("quarter turn swaps extents", func(t *testing.T) {
		pose := Pose{Position: V(0, 1, 0), Right: V(0, 1, 0), Up: V(0, 0, 1), Forward: V(1, 0, 0)}
		res := FitResult{Primitive: Plane{Width: 2, Height: 1, Pose: pose}}
		c, err := Normalize(res, V(0, 1, 3), DefaultConversionPolicy())
		require.NoError(t, err)

		p := c.Primitive.(Plane)
		assert.True(t, p.Pose.Forward.ApproxEqual(WorldUp, tol))
		assert.Equal(t, 1.0, p.Width)
		assert.Equal(t, 2.0, p.Height)
	})
}

// ---------------------------------------------------------------------------
// Torus
// ---------------------------------------------------------------------------

func arcInliers(radius, fromDeg, toDeg, stepDeg float64) []Vec3 {
	var pts []Vec3
	for a := fromDeg; a <= toDeg+1e-9; a += stepDeg {
		rad := a * math.Pi / 180
		pts = append(pts, V(radius*math.Cos(rad), 0, radius*math.Sin(rad)))
	}
	return pts
}

func TestNormalizeTorusCompletion(t *testing.T) {
	torus := Torus{MeanRadius: 1, TubeRadius: 0.1, Pose: IdentityPose()}
	inliers := arcInliers(1, 0, 300, 10)

	t.Run("completed", func(t *testing.T) {
		c, err := Normalize(FitResult{Primitive: torus, Inliers: inliers}, Vec3{}, DefaultConversionPolicy())
		require.NoError(t, err)
		assert.Equal(t, FullTurn, c.TorusDelta)
	})

	t.Run("completion disabled", func(t *testing.T) {
		policy := DefaultConversionPolicy()
		policy.EnableFullTorusCompletion = false
		c, err := Normalize(FitResult{Primitive: torus, Inliers: inliers}, Vec3{}, policy)
		require.NoError(t, err)
		assert.InDelta(t, 300*math.Pi/180, c.TorusDelta, 1e-9)
		assert.InDelta(t, 0, c.TorusBegin, 1e-9)
	})

	t.Run("short arc kept", func(t *testing.T) {
		c, err := Normalize(FitResult{Primitive: torus, Inliers: arcInliers(1, 0, 90, 10)}, Vec3{}, DefaultConversionPolicy())
		require.NoError(t, err)
		assert.InDelta(t, math.Pi/2, c.TorusDelta, 1e-9)
	})

	t.Run("non-torus has no range", func(t *testing.T) {
		c, err := Normalize(FitResult{Primitive: Sphere{Radius: 1, Pose: IdentityPose()}, Inliers: inliers}, Vec3{}, DefaultConversionPolicy())
		require.NoError(t, err)
		assert.Zero(t, c.TorusBegin)
		assert.Zero(t, c.TorusDelta)
	})
}

func TestConversionPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultConversionPolicy().Validate())

	p := DefaultConversionPolicy()
	p.FullTorusAngleThreshold = 7
	assert.Error(t, p.Validate())

	p = DefaultConversionPolicy()
	p.FullConeRadiiRatioThreshold = -0.1
	assert.Error(t, p.Validate())
}
