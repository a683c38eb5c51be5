package policy

// matches implements the three-stage match algorithm from spec §4.4:
// scope filter, subject filter, condition filter, each strictly narrowing.
func matches(p *Policy, ctx Context) bool {
	if !scopeMatches(p.Scope, ctx) {
		return false
	}
	if !subjectMatches(p.Subject, ctx) {
		return false
	}
	return conditionsMatch(p.Conditions, ctx)
}

func scopeMatches(s Scope, ctx Context) bool {
	if s.TenantID != ctx.TenantID {
		return false
	}
	if s.WorkspaceID != "" && s.WorkspaceID != ctx.WorkspaceID {
		return false
	}
	if s.Environment != "" && s.Environment != ctx.Environment {
		return false
	}
	return true
}

func subjectMatches(s Subject, ctx Context) bool {
	var name string
	switch s.Type {
	case SubjectTool:
		name = ctx.Tool
	case SubjectAdapter:
		name = ctx.AdapterID
	case SubjectSkill:
		// Skill name isn't a distinct context field; callers that target
		// skill-scoped policies pass it via Tool for this filter's purposes.
		name = ctx.Tool
	default:
		return false
	}
	if s.Name == "" {
		return true
	}
	return s.Name == name
}

// conditionsMatch applies every specified condition. An absent context
// field never satisfies a specified condition (spec §4.4: "missing context
// fields are unknown and never match any condition").
func conditionsMatch(c Conditions, ctx Context) bool {
	if c.Tool != nil && *c.Tool != ctx.Tool {
		return false
	}
	if c.AdapterRiskClass != nil && *c.AdapterRiskClass != ctx.AdapterRiskClass {
		return false
	}
	if c.SkillState != nil && *c.SkillState != ctx.SkillState {
		return false
	}
	if c.RiskLevel != nil && *c.RiskLevel != ctx.RiskLevel {
		return false
	}
	if c.MinCost != nil && ctx.EstimatedCost < *c.MinCost {
		return false
	}
	if c.MaxCost != nil && ctx.EstimatedCost > *c.MaxCost {
		return false
	}
	if c.Capability != nil && !containsStr(ctx.RequestedCapabilities, *c.Capability) {
		return false
	}
	if !contextConditionsMatch(c.Context, ctx.Context) {
		return false
	}
	if !provenanceConditionsMatch(c.Provenance, ctx.Provenance) {
		return false
	}
	return true
}

func contextConditionsMatch(c ContextConditions, f ContextFields) bool {
	if c.ExternalNetwork != nil {
		if !f.HasExternalNetwork || f.ExternalNetwork != *c.ExternalNetwork {
			return false
		}
	}
	if c.WritesFiles != nil {
		if !f.HasWritesFiles || f.WritesFiles != *c.WritesFiles {
			return false
		}
	}
	if c.ElevatedPrivileges != nil {
		if !f.HasElevatedPriv || f.ElevatedPrivileges != *c.ElevatedPrivileges {
			return false
		}
	}
	if c.PackageManager != nil {
		if !f.HasPackageManager || f.PackageManager != *c.PackageManager {
			return false
		}
	}
	if len(c.Targets) > 0 {
		if len(f.Targets) == 0 {
			return false
		}
		for _, t := range f.Targets {
			if !containsStr(c.Targets, t) {
				return false
			}
		}
	}
	return true
}

func provenanceConditionsMatch(c ProvenanceConditions, f ProvenanceFields) bool {
	if c.Source != nil {
		if !f.HasSource || f.Source != *c.Source {
			return false
		}
	}
	if c.Publisher != nil {
		if !f.HasPublisher || f.Publisher != *c.Publisher {
			return false
		}
	}
	if c.ArtifactHash != nil {
		if !f.HasHash || f.ArtifactHash != *c.ArtifactHash {
			return false
		}
	}
	return true
}

func containsStr(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// precedence ranks effects highest-wins per spec §4.4: deny > require_approval > allow.
func precedence(e Effect) int {
	switch e {
	case EffectDeny:
		return 3
	case EffectRequireApproval:
		return 2
	case EffectAllow:
		return 1
	default:
		return 0
	}
}
