package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckConversion(t *testing.T) {
	all := DefaultConversionPolicy()
	none := ConversionPolicy{}
	auto := DefaultConversionPolicy()
	auto.AutoApplyWithoutPrompt = true

	tests := []struct {
		name   string
		target Kind
		found  Kind
		policy ConversionPolicy
		want   Verdict
	}{
		{"nothing found", KindCone, KindNone, all, Reject},
		{"direct match", KindCone, KindCone, none, Accept},
		{"any target", KindAny, KindTorus, none, Accept},
		{"cone as cylinder", KindCone, KindCylinder, all, Confirm},
		{"torus as cylinder", KindTorus, KindCylinder, all, Confirm},
		{"torus as sphere", KindTorus, KindSphere, all, Confirm},
		{"cone as cylinder disallowed", KindCone, KindCylinder, none, Reject},
		{"torus as sphere disallowed", KindTorus, KindSphere, none, Reject},
		{"auto applied", KindTorus, KindSphere, auto, Accept},
		{"torus as cylinder disallowed", KindTorus, KindCylinder, none, Reject},
		{"unsanctioned pair kept", KindPlane, KindSphere, all, Accept},
		{"unsanctioned pair kept without flags", KindPlane, KindSphere, none, Accept},
		{"cone for cylinder kept", KindCylinder, KindCone, none, Accept},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckConversion(tt.target, tt.found, tt.policy))
		})
	}
}

func TestIsConversion(t *testing.T) {
	assert.False(t, IsConversion(KindAny, KindCone))
	assert.False(t, IsConversion(KindCone, KindCone))
	assert.True(t, IsConversion(KindCone, KindCylinder))
}
