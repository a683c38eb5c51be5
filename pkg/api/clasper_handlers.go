package api

import (
	"encoding/json"
	"net/http"

	"github.com/clasper-io/clasper/pkg/adapter"
	"github.com/clasper-io/clasper/pkg/approval"
	"github.com/clasper-io/clasper/pkg/audit"
	"github.com/clasper-io/clasper/pkg/auth"
	"github.com/clasper-io/clasper/pkg/decision"
	"github.com/clasper-io/clasper/pkg/policy"
	"github.com/clasper-io/clasper/pkg/risk"
	"github.com/clasper-io/clasper/pkg/telemetry"
	"github.com/clasper-io/clasper/pkg/tooltoken"
	"github.com/clasper-io/clasper/pkg/trace"
)

// ClasperServices bundles the C1-C11 components a ClasperHandler dispatches
// to. Every handler scopes its work to the authenticated principal's
// tenant_id; none trusts a tenant_id from the request body over the one on
// the verified identity.
type ClasperServices struct {
	Orchestrator *decision.Orchestrator
	Approvals    *approval.Service
	ToolTokens   *tooltoken.Service
	Telemetry    *telemetry.Service
	Audit        *audit.Store
	Policies     *policy.Engine
	Traces       *trace.Store
	Adapters     adapter.Registry
}

// HandleExecutionDecision exposes the Execution Decision API from spec §6:
// POST /v1/executions/decide.
func (s *ClasperServices) HandleExecutionDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req decision.ExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	result, err := s.Orchestrator.Decide(r.Context(), principal.GetTenantID(), req)
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// resolveRequestBody is the wire shape for POST /v1/decisions/{id}/resolve.
type resolveRequestBody struct {
	Action        string `json:"action"`
	ReasonCode    string `json:"reason_code"`
	Justification string `json:"justification"`
}

// HandleResolveDecision exposes the Decision API's resolve endpoint from
// spec §6: POST /v1/decisions/{decision_id}/resolve.
func (s *ClasperServices) HandleResolveDecision(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	var body resolveRequestBody
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	err = s.Approvals.Resolve(r.Context(), approval.ResolveRequest{
		TenantID:      principal.GetTenantID(),
		DecisionID:    decisionID,
		Action:        approval.ResolveAction(body.Action),
		ApproverID:    principal.GetID(),
		ApproverRoles: principal.GetRoles(),
		ReasonCode:    body.ReasonCode,
		Justification: body.Justification,
	})
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleGetDecision exposes GET /v1/decisions/{decision_id}.
func (s *ClasperServices) HandleGetDecision(w http.ResponseWriter, r *http.Request, decisionID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	d, err := s.Approvals.Get(r.Context(), principal.GetTenantID(), decisionID)
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d)
}

// consumeRequestBody is the wire shape for POST /v1/decisions/consume.
type consumeRequestBody struct {
	DecisionToken string `json:"decision_token"`
}

// HandleConsumeDecision exposes the adapter-facing consume step of the
// Decision API.
func (s *ClasperServices) HandleConsumeDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var body consumeRequestBody
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	scope, err := s.Approvals.Consume(r.Context(), body.DecisionToken)
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"granted_scope": scope})
}

// toolTokenIssueBody is the wire shape for POST /v1/tool-tokens.
type toolTokenIssueBody struct {
	WorkspaceID string                 `json:"workspace_id"`
	AdapterID   string                 `json:"adapter_id"`
	ExecutionID string                 `json:"execution_id"`
	Tool        string                 `json:"tool"`
	Scope       map[string]interface{} `json:"scope"`
	TTLSeconds  int                    `json:"ttl_seconds"`
}

// HandleIssueToolToken exposes the Tool Authorization API's issue endpoint
// from spec §6: POST /v1/tool-tokens.
func (s *ClasperServices) HandleIssueToolToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	var body toolTokenIssueBody
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if !principal.CanUseTool(body.Tool) {
		WriteForbidden(w, "principal is not permitted to use this tool")
		return
	}

	result, err := s.ToolTokens.Issue(r.Context(), tooltoken.IssueRequest{
		TenantID:    principal.GetTenantID(),
		WorkspaceID: body.WorkspaceID,
		AdapterID:   body.AdapterID,
		ExecutionID: body.ExecutionID,
		Tool:        body.Tool,
		Scope:       body.Scope,
		TTLSeconds:  body.TTLSeconds,
	})
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// toolTokenConsumeBody is the wire shape for POST /v1/tool-tokens/consume.
type toolTokenConsumeBody struct {
	Token string `json:"token"`
}

// HandleConsumeToolToken exposes the single-use consume step of the Tool
// Authorization API.
func (s *ClasperServices) HandleConsumeToolToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var body toolTokenConsumeBody
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	claims, err := s.ToolTokens.Consume(r.Context(), body.Token)
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(claims)
}

// HandleTelemetryIngest exposes the Telemetry Ingest API from spec §6:
// POST /v1/telemetry.
func (s *ClasperServices) HandleTelemetryIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.Telemetry.MaxPayloadBytes)+4096)
	var env telemetry.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		WriteBadRequest(w, "invalid envelope")
		return
	}

	receipt, err := s.Telemetry.Ingest(r.Context(), principal.GetTenantID(), &env)
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(receipt)
}

// HandleAuditList exposes the Audit API's list endpoint from spec §6:
// GET /v1/audit?start_seq=&end_seq=.
func (s *ClasperServices) HandleAuditList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	q := r.URL.Query()
	start := parseUintOrZero(q.Get("start_seq"))
	end := parseUintOrZero(q.Get("end_seq"))

	entries := s.Audit.List(principal.GetTenantID(), start, end)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"entries": entries})
}

// HandleAuditVerify exposes the Audit API's chain-verification endpoint:
// GET /v1/audit/verify.
func (s *ClasperServices) HandleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	result, err := s.Audit.VerifyChain(principal.GetTenantID())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// HandleAuditExport exposes the Audit API's evidence-export endpoint from
// spec §4.8: GET /v1/audit/export?start_seq=&end_seq=. It returns a zip
// bundle (entries.json, manifest.json, README.txt) that a verifier can
// re-run offline against the hash chain, with the bundle's own checksum
// surfaced in a response header.
func (s *ClasperServices) HandleAuditExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	q := r.URL.Query()
	req := audit.ExportRequest{
		TenantID: principal.GetTenantID(),
		StartSeq: parseUintOrZero(q.Get("start_seq")),
		EndSeq:   parseUintOrZero(q.Get("end_seq")),
	}

	exporter := audit.NewExporter(s.Audit)
	zipBytes, checksum, err := exporter.GeneratePack(r.Context(), req)
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-evidence.zip"`)
	w.Header().Set("X-Audit-Checksum", checksum)
	_, _ = w.Write(zipBytes)
}

// policyUpsertBody is the wire shape for POST /v1/policies.
type policyUpsertBody struct {
	policy.Policy
}

// HandlePolicyUpsert exposes the Policy API's upsert endpoint from spec §6:
// POST /v1/policies.
func (s *ClasperServices) HandlePolicyUpsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}
	if !principal.HasPermission("policy_admin") {
		WriteForbidden(w, "principal lacks policy_admin permission")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var body policyUpsertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteBadRequest(w, "invalid policy body")
		return
	}
	body.Policy.Scope.TenantID = principal.GetTenantID()

	if err := s.Policies.Upsert(&body.Policy); err != nil {
		WriteClasperError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"policy_id": body.Policy.PolicyID,
		"version":   s.Policies.Version(principal.GetTenantID()),
	})
}

// HandleTraceGet exposes GET /v1/traces/{trace_id}.
func (s *ClasperServices) HandleTraceGet(w http.ResponseWriter, r *http.Request, traceID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal, err := auth.GetPrincipal(r.Context())
	if err != nil {
		WriteClasperError(w, r, err)
		return
	}

	t, err := s.Traces.Get(r.Context(), principal.GetTenantID(), traceID)
	if err != nil {
		WriteNotFound(w, "trace not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(t)
}

func parseUintOrZero(s string) uint64 {
	var v uint64
	if s == "" {
		return 0
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + uint64(c-'0')
	}
	return v
}

// riskWeightsBody allows operators to inspect the currently configured C5
// weights, per DESIGN NOTES' "tunable per deployment, not per tenant."
type riskWeightsBody struct {
	Weights risk.Weights `json:"weights"`
}

// HandleRiskWeights exposes GET /v1/risk/weights for operator visibility
// into the scorer's configuration.
func (s *ClasperServices) HandleRiskWeights(scorer *risk.Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			WriteMethodNotAllowed(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(riskWeightsBody{Weights: scorer.Weights})
	}
}
