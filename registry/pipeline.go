package registry

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kwv/anchormesh/geometry"
)

// DetectionRequest is a raw fit result together with what the user was
// looking for and where they were standing.
type DetectionRequest struct {
	Target         geometry.Kind      `json:"target"`
	DevicePosition geometry.Vec3      `json:"devicePosition"`
	Location       geometry.Vec3      `json:"location"`
	Result         geometry.FitResult `json:"result"`
}

// Reason explains a rejected detection.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNothingFound     Reason = "nothing-found"
	ReasonKindMismatch     Reason = "kind-mismatch"
	ReasonDeclined         Reason = "declined"
	ReasonAbandoned        Reason = "abandoned"
	ReasonInvalid          Reason = "invalid"
	ReasonStoreUnavailable Reason = "store-unavailable"
)

// Outcome is the result of processing one detection. Rejections are not
// errors; the caller decides how to give feedback.
type Outcome struct {
	Accepted  bool          `json:"accepted"`
	ID        AnchorID      `json:"id,omitempty"`
	Kind      geometry.Kind `json:"kind"`
	Converted bool          `json:"converted"`
	Reason    Reason        `json:"reason,omitempty"`
}

// Pipeline chains normalization, conversion confirmation and submission.
type Pipeline struct {
	engine    *Engine
	prompts   *PromptBoard
	policy    geometry.ConversionPolicy
	fitter    geometry.Fitter
	fitConfig geometry.FitConfig
	logger    *zap.Logger
}

// NewPipeline wires a pipeline. fitter may be nil when only Process is used.
func NewPipeline(engine *Engine, prompts *PromptBoard, policy geometry.ConversionPolicy, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		engine:    engine,
		prompts:   prompts,
		policy:    policy,
		fitConfig: geometry.DefaultFitConfig(),
		logger:    logger.Named("pipeline"),
	}
}

// WithFitter attaches the fitting backend used by Capture.
func (p *Pipeline) WithFitter(f geometry.Fitter) *Pipeline {
	p.fitter = f
	return p
}

// WithFitConfig sets the fit parameters Capture passes to the fitter.
func (p *Pipeline) WithFitConfig(cfg geometry.FitConfig) *Pipeline {
	p.fitConfig = cfg
	return p
}

// FitConfig returns the fit parameters used by Capture.
func (p *Pipeline) FitConfig() geometry.FitConfig {
	return p.fitConfig
}

// Process turns a detection into a pending record, asking the user first
// when the detected kind is a sanctioned substitute for the target. The
// prompt wait does not hold up the engine.
func (p *Pipeline) Process(ctx context.Context, req DetectionRequest) (Outcome, error) {
	found := req.Result.Kind()
	out := Outcome{Kind: found}
	if found == geometry.KindNone {
		out.Reason = ReasonNothingFound
		return out, nil
	}

	cand, err := geometry.Normalize(req.Result, req.DevicePosition, p.policy)
	if err != nil {
		p.logger.Warn("detection rejected", zap.Stringer("kind", found), zap.Error(err))
		out.Reason = ReasonInvalid
		return out, nil
	}

	switch geometry.CheckConversion(req.Target, found, p.policy) {
	case geometry.Reject:
		p.logger.Info("detection rejected",
			zap.Stringer("target", req.Target), zap.Stringer("found", found))
		out.Reason = ReasonKindMismatch
		return out, nil
	case geometry.Confirm:
		accepted, err := p.prompts.RequestConfirmation(ctx, req.Target, found, req.Location)
		if errors.Is(err, ErrPromptAbandoned) {
			out.Reason = ReasonAbandoned
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if !accepted {
			out.Reason = ReasonDeclined
			return out, nil
		}
	}
	out.Converted = geometry.IsConversion(req.Target, found)

	id, err := p.engine.Submit(ctx, cand)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			out.Reason = ReasonStoreUnavailable
		}
		return out, err
	}
	out.Accepted = true
	out.ID = id
	return out, nil
}

// Capture fits a primitive around points[seedIndex] and processes it.
func (p *Pipeline) Capture(ctx context.Context, points []geometry.Vec3, seedIndex int, target geometry.Kind, devicePosition geometry.Vec3) (Outcome, error) {
	if p.fitter == nil {
		return Outcome{}, errors.New("no fitter configured")
	}
	if seedIndex < 0 || seedIndex >= len(points) {
		return Outcome{}, fmt.Errorf("seed index %d out of range [0, %d)", seedIndex, len(points))
	}

	cfg := p.fitConfig
	cfg.Target = target
	res, err := p.fitter.Fit(ctx, points, seedIndex, cfg)
	if err != nil {
		return Outcome{}, fmt.Errorf("fit: %w", err)
	}
	return p.Process(ctx, DetectionRequest{
		Target:         target,
		DevicePosition: devicePosition,
		Location:       points[seedIndex],
		Result:         res,
	})
}
