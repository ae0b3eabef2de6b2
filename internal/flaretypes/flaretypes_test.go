package flaretypes

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskLevel_Ordering(t *testing.T) {
	levels := AllRiskLevels()
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, int(levels[i]), int(levels[i-1]))
	}
}

func TestRiskLevel_StringRoundTrip(t *testing.T) {
	for _, level := range AllRiskLevels() {
		parsed, err := ParseRiskLevel(level.String())
		require.NoError(t, err)
		assert.Equal(t, level, parsed)
	}

	_, err := ParseRiskLevel("catastrophic")
	assert.ErrorIs(t, err, ErrInvalidRiskLevel)
}

func TestRiskLevel_JSONMarshalsAsString(t *testing.T) {
	data, err := json.Marshal(RiskLevelHigh)
	require.NoError(t, err)
	assert.Equal(t, `"high"`, string(data))
}

func TestAction_UnmarshalText(t *testing.T) {
	var a Action
	require.NoError(t, a.UnmarshalText([]byte("warn")))
	assert.Equal(t, ActionWarn, a)

	assert.ErrorIs(t, a.UnmarshalText([]byte("block")), ErrInvalidAction)
}

func TestActionPolicy_Validate(t *testing.T) {
	require.NoError(t, ReferencePolicy().Validate())

	incomplete := ActionPolicy{RiskLevelNone: ActionRun}
	assert.ErrorIs(t, incomplete.Validate(), ErrIncompletePolicy)

	invalid := ReferencePolicy()
	invalid[RiskLevelLow] = Action("block")
	assert.ErrorIs(t, invalid.Validate(), ErrInvalidAction)
}

func TestRiskAssessment_JSONShape(t *testing.T) {
	assessment := RiskAssessment{
		RiskLevel:      RiskLevelHigh,
		Action:         ActionAsk,
		Summary:        "High risk: x",
		Details:        []Finding{{Category: CategoryNetwork, Severity: RiskLevelHigh, Description: "x", Analyzer: "network"}},
		Recommendation: "review",
	}

	data, err := json.Marshal(assessment)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "high", decoded["risk_level"])
	assert.Equal(t, "ask", decoded["action"])
	// partial is omitted unless true
	_, present := decoded["partial"]
	assert.False(t, present)

	assessment.Partial = true
	data, err = json.Marshal(assessment)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["partial"])
}
