package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// FullTurn is a complete revolution in radians.
const FullTurn = 2 * math.Pi

// arcCentroidThreshold is the minimum length of the mean projected direction
// for an arc to be estimated. Below it the inliers wrap the whole axis.
const arcCentroidThreshold = 0.1

// TorusAngleRange estimates the angular extent of a captured tube segment from
// inliers given in the torus's local frame (axis = local +Y).
//
// Angles are measured in the local XZ plane from +X toward +Z. Inliers on the
// axis are ignored; fewer than two usable inliers report a full torus.
func TorusAngleRange(localInliers []Vec3) (begin, delta float64) {
	directions := make(orb.MultiPoint, 0, len(localInliers))
	for _, p := range localInliers {
		d := orb.Point{p.X, p.Z}
		n := planar.Distance(d, orb.Point{})
		if n < 1e-9 {
			continue
		}
		directions = append(directions, orb.Point{d[0] / n, d[1] / n})
	}
	if len(directions) < 2 {
		return 0, FullTurn
	}

	centroid, _ := planar.CentroidArea(directions)
	length := planar.Distance(centroid, orb.Point{})
	if length < arcCentroidThreshold {
		return 0, FullTurn
	}
	centroid = orb.Point{centroid[0] / length, centroid[1] / length}

	base := signedAngle(orb.Point{1, 0}, centroid)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, d := range directions {
		a := signedAngle(centroid, d)
		lo = math.Min(lo, a)
		hi = math.Max(hi, a)
	}
	return lo + base, hi - lo
}

// signedAngle returns the angle from a to b in (-π, π], positive when turning
// from +X toward +Z.
func signedAngle(a, b orb.Point) float64 {
	cross := a[0]*b[1] - a[1]*b[0]
	dot := a[0]*b[0] + a[1]*b[1]
	return math.Atan2(cross, dot)
}
