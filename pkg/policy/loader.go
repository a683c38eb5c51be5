package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// bootstrapFile is the on-disk shape of a policy bundle loaded from
// POLICY_PATH at startup, one tenant's worth of policies per file.
type bootstrapFile struct {
	TenantID string           `yaml:"tenant_id"`
	Policies []bootstrapEntry `yaml:"policies"`
}

type bootstrapEntry struct {
	PolicyID      string            `yaml:"policy_id"`
	WorkspaceID   string            `yaml:"workspace_id,omitempty"`
	Environment   string            `yaml:"environment,omitempty"`
	SubjectType   string            `yaml:"subject_type"`
	SubjectName   string            `yaml:"subject_name,omitempty"`
	Effect        string            `yaml:"effect"`
	RequiredRole  string            `yaml:"required_role,omitempty"`
	Enabled       bool              `yaml:"enabled"`
	CELExpression string            `yaml:"cel_expression,omitempty"`
	Conditions    bootstrapConditions `yaml:"conditions,omitempty"`
}

type bootstrapConditions struct {
	Tool               string   `yaml:"tool,omitempty"`
	AdapterRiskClass   string   `yaml:"adapter_risk_class,omitempty"`
	SkillState         string   `yaml:"skill_state,omitempty"`
	RiskLevel          string   `yaml:"risk_level,omitempty"`
	MinCost            *float64 `yaml:"min_cost,omitempty"`
	MaxCost            *float64 `yaml:"max_cost,omitempty"`
	Capability         string   `yaml:"capability,omitempty"`
	ExternalNetwork    *bool    `yaml:"external_network,omitempty"`
	WritesFiles        *bool    `yaml:"writes_files,omitempty"`
	ElevatedPrivileges *bool    `yaml:"elevated_privileges,omitempty"`
	PackageManager     string   `yaml:"package_manager,omitempty"`
	Targets            []string `yaml:"targets,omitempty"`
	ProvenanceSource   string   `yaml:"provenance_source,omitempty"`
	ProvenancePublisher string  `yaml:"provenance_publisher,omitempty"`
}

// LoadBootstrapDir reads every *.yaml/*.yml file under dir and upserts the
// policies it describes into the engine. Used once at process startup to
// seed POLICY_PATH-configured tenant defaults; admin-driven upserts at
// runtime go through Upsert directly.
func (e *Engine) LoadBootstrapDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("policy: read bootstrap dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := e.LoadBootstrapFile(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("policy: load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (e *Engine) LoadBootstrapFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var file bootstrapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}

	for _, entry := range file.Policies {
		p := toPolicy(file.TenantID, entry)
		if err := e.Upsert(p); err != nil {
			return fmt.Errorf("policy %s: %w", p.PolicyID, err)
		}
	}
	return nil
}

func toPolicy(tenantID string, e bootstrapEntry) *Policy {
	c := e.Conditions
	conds := Conditions{
		Context:    ContextConditions{ExternalNetwork: c.ExternalNetwork, WritesFiles: c.WritesFiles, ElevatedPrivileges: c.ElevatedPrivileges, Targets: c.Targets},
		Provenance: ProvenanceConditions{},
	}
	if c.Tool != "" {
		conds.Tool = &c.Tool
	}
	if c.AdapterRiskClass != "" {
		conds.AdapterRiskClass = &c.AdapterRiskClass
	}
	if c.SkillState != "" {
		conds.SkillState = &c.SkillState
	}
	if c.RiskLevel != "" {
		conds.RiskLevel = &c.RiskLevel
	}
	if c.MinCost != nil {
		conds.MinCost = c.MinCost
	}
	if c.MaxCost != nil {
		conds.MaxCost = c.MaxCost
	}
	if c.Capability != "" {
		conds.Capability = &c.Capability
	}
	if c.PackageManager != "" {
		conds.Context.PackageManager = &c.PackageManager
	}
	if c.ProvenanceSource != "" {
		conds.Provenance.Source = &c.ProvenanceSource
	}
	if c.ProvenancePublisher != "" {
		conds.Provenance.Publisher = &c.ProvenancePublisher
	}

	return &Policy{
		PolicyID: e.PolicyID,
		Scope:    Scope{TenantID: tenantID, WorkspaceID: e.WorkspaceID, Environment: e.Environment},
		Subject:  Subject{Type: SubjectType(e.SubjectType), Name: e.SubjectName},
		Conditions:    conds,
		Effect:        Effect(e.Effect),
		RequiredRole:  e.RequiredRole,
		Enabled:       e.Enabled,
		CELExpression: e.CELExpression,
	}
}
