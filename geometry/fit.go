package geometry

import (
	"context"
	"encoding/json"
)

// FitResult is the outcome of fitting a primitive to a point cloud. A nil
// Primitive means nothing was found.
type FitResult struct {
	Primitive Primitive
	Inliers   []Vec3
	RMSError  float64
}

// Kind returns the kind of the fitted primitive, or KindNone.
func (r FitResult) Kind() Kind {
	if r.Primitive == nil {
		return KindNone
	}
	return r.Primitive.Kind()
}

type fitResultJSON struct {
	Primitive Shape   `json:"primitive"`
	Inliers   []Vec3  `json:"inliers"`
	RMSError  float64 `json:"rmsError"`
}

func (r FitResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(fitResultJSON{
		Primitive: Shape{r.Primitive},
		Inliers:   r.Inliers,
		RMSError:  r.RMSError,
	})
}

func (r *FitResult) UnmarshalJSON(data []byte) error {
	var raw fitResultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Primitive = raw.Primitive.Primitive
	r.Inliers = raw.Inliers
	r.RMSError = raw.RMSError
	return nil
}

// FitConfig carries the tuning parameters handed to a Fitter.
type FitConfig struct {
	MeasurementAccuracy float64 `yaml:"measurementAccuracy" json:"measurementAccuracy"`
	MeanDistance        float64 `yaml:"meanDistance" json:"meanDistance"`
	SeedRadius          float64 `yaml:"seedRadius" json:"seedRadius"`
	Target              Kind    `yaml:"-" json:"target"`
}

// DefaultFitConfig returns the fitting defaults used for room-scale scans.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		MeasurementAccuracy: 0.025,
		MeanDistance:        0.05,
		SeedRadius:          0.10,
		Target:              KindAny,
	}
}

// Fitter detects a primitive around points[seedIndex]. The fitting algorithm
// itself lives outside this module.
type Fitter interface {
	Fit(ctx context.Context, points []Vec3, seedIndex int, cfg FitConfig) (FitResult, error)
}
