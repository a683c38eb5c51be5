// Package risk implements C5: the additive, weighted risk score and bucket
// assigned to an execution request.
package risk

import "github.com/clasper-io/clasper/pkg/adapter"

// Level is the risk bucket derived from the numeric score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Bucket cutoffs per spec §4.5.
const (
	cutoffMedium   = 25.0
	cutoffHigh     = 55.0
	cutoffCritical = 80.0
)

// Weights are the named, tunable scoring weights from spec §4.5. They are
// fixed at a given deployment and shipped alongside every score so operators
// can audit it.
type Weights struct {
	BaseByRiskClass        map[adapter.RiskClass]float64
	PerExtraCapability     float64
	CapabilityThreshold    int
	HighImpactCapability   float64
	ExternalNetwork        float64
	ElevatedPrivileges     float64
	ProvenanceMarketplace  float64
	ProvenanceUnknown      float64
	SkillUntested          float64
	SkillPinned            float64
	HighTemperature        float64
	DataSensitivityPII     float64
	DataSensitivitySecrets float64
}

// DefaultWeights returns the weights enumerated verbatim in spec §4.5.
func DefaultWeights() Weights {
	return Weights{
		BaseByRiskClass: map[adapter.RiskClass]float64{
			adapter.RiskLow:      0,
			adapter.RiskMedium:   15,
			adapter.RiskHigh:     35,
			adapter.RiskCritical: 60,
		},
		PerExtraCapability:     2,
		CapabilityThreshold:    3,
		HighImpactCapability:   10,
		ExternalNetwork:        10,
		ElevatedPrivileges:     15,
		ProvenanceMarketplace:  10,
		ProvenanceUnknown:      5,
		SkillUntested:          10,
		SkillPinned:            -5,
		HighTemperature:        5,
		DataSensitivityPII:     10,
		DataSensitivitySecrets: 20,
	}
}

// highImpactCapabilities is the known-high-impact capability set from
// spec §4.5.
var highImpactCapabilities = map[string]bool{
	"shell.exec":        true,
	"filesystem.write":  true,
	"network.egress":    true,
	"credentials.read":  true,
}

// SkillState mirrors the request's skill maturity field.
type SkillState string

const (
	SkillUntested SkillState = "untested"
	SkillTested   SkillState = "tested"
	SkillPinned   SkillState = "pinned"
)

// Input is everything C5 needs to compute a score, assembled by C6 from the
// ExecutionRequest plus the resolved adapter.
type Input struct {
	RequestedCapabilities []string
	AdapterRiskClass      adapter.RiskClass
	SkillState            SkillState
	Temperature           float64
	DataSensitivity       string // "", "pii", "secrets"
	ExternalNetwork       bool
	ElevatedPrivileges    bool
	ProvenanceSource      string // "", "marketplace", "internal", "git", "unknown"
}

// Breakdown is the per-factor contribution to the final score, returned
// alongside it so operators can audit any decision (spec §4.5).
type Breakdown struct {
	Factor string
	Points float64
}

// Score is the scorer's output: numeric score, bucket, and weighted
// breakdown.
type Score struct {
	Value     float64
	Bucket    Level
	Breakdown []Breakdown
}

// Scorer computes risk scores using a fixed, deployment-wide weight set.
type Scorer struct {
	Weights Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{Weights: w}
}

// Score computes the additive weighted score for in, clipped to [0, 100].
func (s *Scorer) Score(in Input) Score {
	w := s.Weights
	var total float64
	var breakdown []Breakdown

	add := func(factor string, points float64) {
		if points == 0 {
			return
		}
		total += points
		breakdown = append(breakdown, Breakdown{Factor: factor, Points: points})
	}

	add("base_risk_class:"+string(in.AdapterRiskClass), w.BaseByRiskClass[in.AdapterRiskClass])

	capCount := len(in.RequestedCapabilities)
	if extra := capCount - w.CapabilityThreshold; extra > 0 {
		add("capability_count", float64(extra)*w.PerExtraCapability)
	}

	for _, c := range in.RequestedCapabilities {
		if highImpactCapabilities[c] {
			add("high_impact_capability:"+c, w.HighImpactCapability)
			break // +10 once, "if any capability is in the set"
		}
	}

	if in.ExternalNetwork {
		add("context.external_network", w.ExternalNetwork)
	}
	if in.ElevatedPrivileges {
		add("context.elevated_privileges", w.ElevatedPrivileges)
	}

	switch in.ProvenanceSource {
	case "marketplace":
		add("provenance.source:marketplace", w.ProvenanceMarketplace)
	case "unknown":
		add("provenance.source:unknown", w.ProvenanceUnknown)
	}

	switch in.SkillState {
	case SkillUntested:
		add("skill_state:untested", w.SkillUntested)
	case SkillPinned:
		add("skill_state:pinned", w.SkillPinned)
	}

	if in.Temperature > 1.0 {
		add("temperature>1.0", w.HighTemperature)
	}

	switch in.DataSensitivity {
	case "pii":
		add("data_sensitivity:pii", w.DataSensitivityPII)
	case "secrets":
		add("data_sensitivity:secrets", w.DataSensitivitySecrets)
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	bucket := bucketFor(total)
	if floor := riskClassFloor(in.AdapterRiskClass); levelRank[floor] > levelRank[bucket] {
		bucket = floor
	}

	return Score{Value: total, Bucket: bucket, Breakdown: breakdown}
}

func bucketFor(v float64) Level {
	switch {
	case v >= cutoffCritical:
		return LevelCritical
	case v >= cutoffHigh:
		return LevelHigh
	case v >= cutoffMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// levelRank orders buckets so riskClassFloor can be applied as a lower bound
// on the score-derived bucket.
var levelRank = map[Level]int{
	LevelLow:      0,
	LevelMedium:   1,
	LevelHigh:     2,
	LevelCritical: 3,
}

// riskClassFloor guarantees a high/critical adapter never lands below its
// own declared risk class, even when its additive score alone would bucket
// lower (spec §4.5's bucket cutoffs and the mandatory-approval scenario
// both have to hold: a high-risk adapter always requires at least the
// approval path its risk_class implies).
func riskClassFloor(rc adapter.RiskClass) Level {
	switch rc {
	case adapter.RiskCritical:
		return LevelCritical
	case adapter.RiskHigh:
		return LevelHigh
	default:
		return LevelLow
	}
}
