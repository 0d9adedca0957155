package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/auspex/internal/models"
)

func f(v float64) *float64 { return &v }

func TestFuse(t *testing.T) {
	tests := []struct {
		name      string
		technical *float64
		ai        *float64
		alpha     float64
		want      *float64
	}{
		{"technical only", f(7.5), nil, 0.4, f(7.5)},
		{"both present", f(7.5), f(8.0), 0.4, f(7.80)},
		{"technical absent", nil, f(8.0), 0.4, nil},
		{"both maxed", f(10), f(10), 0.4, f(10.0)},
		{"both maxed alpha zero", f(10), f(10), 0, f(10.0)},
		{"both maxed alpha one", f(10), f(10), 1, f(10.0)},
		{"ai dominant", f(2.0), f(9.0), 0.4, f(6.2)},
		{"rounding", f(7.333), f(6.111), 0.4, f(6.6)},
		{"technical clamped high", f(12.0), nil, 0.4, f(10.0)},
		{"technical clamped low", f(-1.0), nil, 0.4, f(0.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fuse(tt.technical, tt.ai, tt.alpha)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

func TestFuseRangeInvariant(t *testing.T) {
	// Any inputs in [0,10] must produce a fusion score in [0,10]
	for tech := 0.0; tech <= 10.0; tech += 2.5 {
		for ai := 0.0; ai <= 10.0; ai += 2.5 {
			for _, alpha := range []float64{0, 0.4, 0.7, 1} {
				got := Fuse(f(tech), f(ai), alpha)
				require.NotNil(t, got)
				assert.GreaterOrEqual(t, *got, 0.0)
				assert.LessOrEqual(t, *got, 10.0)
			}
		}
	}
}

func TestActionFor(t *testing.T) {
	tests := []struct {
		fusion float64
		want   models.Action
	}{
		{9.5, models.ActionBuy},
		{7.0, models.ActionBuy},
		{6.99, models.ActionHold},
		{4.0, models.ActionHold},
		{3.99, models.ActionSell},
		{0, models.ActionSell},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ActionFor(tt.fusion, 7.0, 4.0), "fusion %.2f", tt.fusion)
	}
}

func TestActionForCustomThresholds(t *testing.T) {
	assert.Equal(t, models.ActionBuy, ActionFor(5.0, 5.0, 3.0))
	assert.Equal(t, models.ActionHold, ActionFor(4.9, 5.0, 3.0))
	assert.Equal(t, models.ActionSell, ActionFor(2.9, 5.0, 3.0))
}
