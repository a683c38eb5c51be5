package risk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clasper-io/clasper/pkg/adapter"
	"github.com/clasper-io/clasper/pkg/risk"
)

func TestScorer_LowRiskLLMOnly(t *testing.T) {
	s := risk.NewScorer(risk.DefaultWeights())
	score := s.Score(risk.Input{
		RequestedCapabilities: []string{"llm"},
		AdapterRiskClass:      adapter.RiskLow,
	})
	assert.Equal(t, risk.LevelLow, score.Bucket)
	assert.Equal(t, 0.0, score.Value)
}

func TestScorer_MarketplaceShellExecIsMedium(t *testing.T) {
	s := risk.NewScorer(risk.DefaultWeights())
	score := s.Score(risk.Input{
		RequestedCapabilities: []string{"shell.exec"},
		AdapterRiskClass:      adapter.RiskMedium,
		ExternalNetwork:       true,
		ProvenanceSource:      "marketplace",
	})
	// base 15 + high_impact 10 + external_network 10 + marketplace 10 = 45 (medium)
	assert.Equal(t, 45.0, score.Value)
	assert.Equal(t, risk.LevelMedium, score.Bucket)
	assert.NotEmpty(t, score.Breakdown)
}

func TestScorer_CriticalClipsAt100(t *testing.T) {
	s := risk.NewScorer(risk.DefaultWeights())
	score := s.Score(risk.Input{
		RequestedCapabilities: []string{"shell.exec", "filesystem.write", "network.egress", "credentials.read", "extra1", "extra2"},
		AdapterRiskClass:      adapter.RiskCritical,
		ExternalNetwork:       true,
		ElevatedPrivileges:    true,
		ProvenanceSource:      "marketplace",
		SkillState:            risk.SkillUntested,
		Temperature:           1.5,
		DataSensitivity:       "secrets",
	})
	assert.Equal(t, 100.0, score.Value)
	assert.Equal(t, risk.LevelCritical, score.Bucket)
}

func TestScorer_PinnedSkillReducesScore(t *testing.T) {
	s := risk.NewScorer(risk.DefaultWeights())
	score := s.Score(risk.Input{
		RequestedCapabilities: []string{"llm"},
		AdapterRiskClass:      adapter.RiskMedium,
		SkillState:            risk.SkillPinned,
	})
	assert.Equal(t, 10.0, score.Value) // 15 base - 5 pinned
}
