package geometry

// Verdict is the outcome of comparing a detected kind to the requested one.
type Verdict int

const (
	// Reject drops the detection.
	Reject Verdict = iota
	// Accept registers the detection without asking.
	Accept
	// Confirm requires a user decision before registering.
	Confirm
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Confirm:
		return "confirm"
	default:
		return "reject"
	}
}

// CheckConversion decides whether a primitive of kind found may stand in for a
// requested target kind. The near-degenerate substitutions (cylinder for cone,
// cylinder or sphere for torus) are gated by the policy: Confirm, Accept when
// applied without prompting, or Reject when the policy disallows them. Any
// other mismatch is kept as found.
func CheckConversion(target, found Kind, policy ConversionPolicy) Verdict {
	if found == KindNone || found == KindAny {
		return Reject
	}
	if target == KindAny || target == found {
		return Accept
	}

	var allowed bool
	switch {
	case target == KindCone && found == KindCylinder:
		allowed = policy.AllowConeToCylinder
	case target == KindTorus && found == KindCylinder:
		allowed = policy.AllowTorusToCylinder
	case target == KindTorus && found == KindSphere:
		allowed = policy.AllowTorusToSphere
	default:
		return Accept
	}
	if !allowed {
		return Reject
	}
	if policy.AutoApplyWithoutPrompt {
		return Accept
	}
	return Confirm
}

// IsConversion reports whether accepting found for target is a kind
// substitution rather than a direct match.
func IsConversion(target, found Kind) bool {
	return target != KindAny && target != found
}
