package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *float64
	}{
		{"chinese with space", "信心 8/10", f(8.0)},
		{"chinese no separator", "建议买入（信心8/10）", f(8.0)},
		{"chinese fullwidth colon", "信心：９/１０", f(9.0)},
		{"english", "Confidence 7.5/10", f(7.5)},
		{"english with colon", "confidence: 7.5/10", f(7.5)},
		{"english lowercase", "my confidence 6/10 overall", f(6.0)},
		{"chinese numeral not parseable", "最终建议：买入（信心 十/10）", nil},
		{"negative clamped to zero", "信心-1/10", f(0.0)},
		{"unicode minus clamped", "信心−2/10", f(0.0)},
		{"fullwidth minus clamped", "信心－3/10", f(0.0)},
		{"above range clamped", "信心12/10", f(10.0)},
		{"decimal", "信心 8.5/10", f(8.5)},
		{"fullwidth digits", "信心８/１０", f(8.0)},
		{"no mention", "这只股票趋势向好，建议关注", nil},
		{"empty", "", nil},
		{"bare fraction without keyword", "scored 8/10 on fundamentals", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := ParseConfidence(tt.text)
			if tt.want == nil {
				assert.Nil(t, got, "expected absent confidence")
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.001)
		})
	}
}

func TestParseConfidenceFirstMatchWins(t *testing.T) {
	got, raw := ParseConfidence("信心 8/10 ... later revised: 信心 3/10")
	require.NotNil(t, got)
	assert.InDelta(t, 8.0, *got, 0.001)
	assert.Contains(t, raw, "8")
}

func TestParseConfidenceAbsenceIsNotZero(t *testing.T) {
	// Absence and zero are different outcomes: no pattern match must not be
	// reported as a 0.0 confidence.
	got, _ := ParseConfidence("no numeric statement here")
	assert.Nil(t, got)

	got, _ = ParseConfidence("信心 0/10")
	require.NotNil(t, got)
	assert.Equal(t, 0.0, *got)
}
