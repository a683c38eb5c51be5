// Package trace implements C9: whole-trace persistence with a per-step
// hash chain and a derived integrity verdict.
package trace

import (
	"time"

	"github.com/clasper-io/clasper/pkg/canonicalize"
)

// Step is one entry in a trace's step chain, per spec §3/§4.9.
type Step struct {
	StepID       string                 `json:"step_id"`
	PrevStepHash string                 `json:"prev_step_hash,omitempty"`
	StepHash     string                 `json:"step_hash,omitempty"`
	Type         string                 `json:"type"`
	Timestamp    time.Time              `json:"timestamp"`
	DurationMS   int64                  `json:"duration_ms"`
	Data         map[string]interface{} `json:"data"`
}

// Usage mirrors a trace's token/cost accounting.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Trace is the full record from spec §3.
type Trace struct {
	TraceID        string                 `json:"trace_id"`
	TenantID       string                 `json:"tenant_id"`
	WorkspaceID    string                 `json:"workspace_id"`
	AdapterID      string                 `json:"adapter_id,omitempty"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Model          string                 `json:"model"`
	Provider       string                 `json:"provider"`
	Input          map[string]interface{} `json:"input"`
	Output         map[string]interface{} `json:"output,omitempty"`
	Steps          []Step                 `json:"steps"`
	Usage          Usage                  `json:"usage"`
	GrantedScope   map[string]interface{} `json:"granted_scope,omitempty"`
	UsedScope      map[string]interface{} `json:"used_scope,omitempty"`
	RedactedPrompt string                 `json:"redacted_prompt,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Verdict is the derived integrity status computed on read.
type Verdict string

const (
	VerdictVerified   Verdict = "verified"
	VerdictCompromised Verdict = "compromised"
	VerdictUnsigned   Verdict = "unsigned"
	VerdictUnverified Verdict = "unverified"
)

// stepHashable is the exact field set spec §4.9 hashes: {step_id,
// prev_step_hash, type, timestamp, duration_ms, data}, the same
// canonicalization rule as C8.
type stepHashable struct {
	StepID       string                 `json:"step_id"`
	PrevStepHash string                 `json:"prev_step_hash"`
	Type         string                 `json:"type"`
	Timestamp    string                 `json:"timestamp"`
	DurationMS   int64                  `json:"duration_ms"`
	Data         map[string]interface{} `json:"data"`
}

func computeStepHash(s Step) (string, error) {
	h := stepHashable{
		StepID: s.StepID, PrevStepHash: s.PrevStepHash, Type: s.Type,
		Timestamp: s.Timestamp.UTC().Format(time.RFC3339Nano),
		DurationMS: s.DurationMS, Data: s.Data,
	}
	sum, err := canonicalize.SHA256JSON(h)
	if err != nil {
		return "", err
	}
	return canonicalize.FormatHash(sum), nil
}

// Verify computes the trace's integrity verdict per spec §4.9.
func Verify(t *Trace) Verdict {
	if len(t.Steps) == 0 {
		return VerdictUnverified
	}

	anySigned := false
	for _, s := range t.Steps {
		if s.StepHash != "" {
			anySigned = true
			break
		}
	}
	if !anySigned {
		return VerdictUnsigned
	}

	expectedPrev := ""
	for _, s := range t.Steps {
		if s.StepHash == "" {
			return VerdictCompromised
		}
		if s.PrevStepHash != expectedPrev {
			return VerdictCompromised
		}
		computed, err := computeStepHash(s)
		if err != nil || computed != s.StepHash {
			return VerdictCompromised
		}
		expectedPrev = s.StepHash
	}

	return VerdictVerified
}

// ChainSteps fills in PrevStepHash/StepHash for a freshly assembled step
// sequence, as an adapter would before submitting a signed trace.
func ChainSteps(steps []Step) ([]Step, error) {
	out := make([]Step, len(steps))
	prev := ""
	for i, s := range steps {
		s.PrevStepHash = prev
		hash, err := computeStepHash(s)
		if err != nil {
			return nil, err
		}
		s.StepHash = hash
		prev = hash
		out[i] = s
	}
	return out, nil
}
