package core

import (
	"testing"
)

func importRuleFixture() SyncRule {
	return SyncRule{
		ID:            "rule-hr-in",
		Name:          "HR users in",
		SystemID:      "hr",
		ObjectType:    "User",
		MetaverseType: "Person",
		Direction:     DirectionImport,
		Enabled:       true,
		Provisioning:  true,
		MatchingRules: []MatchingRule{
			{ID: "m-employee", Order: 0, SourceAttribute: "employeeId", TargetAttribute: "employeeId"},
		},
		Mappings: []SyncRuleMapping{
			{
				ID:              "map-display",
				TargetAttribute: "displayName",
				TargetKind:      KindString,
				Priority:        0,
				Sources:         []MappingSource{{Kind: SourceKindAttribute, Attribute: "name"}},
			},
			{
				ID:              "map-employee",
				TargetAttribute: "employeeId",
				TargetKind:      KindInteger,
				Priority:        0,
				Sources:         []MappingSource{{Kind: SourceKindAttribute, Attribute: "employeeId"}},
			},
		},
	}
}

func TestCompileSyncRuleNormalizes(t *testing.T) {
	compiled, issues, err := CompileSyncRule(importRuleFixture())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if ContainsRuleErrors(issues) {
		t.Fatalf("unexpected blocking issues: %#v", issues)
	}
	if compiled.Rule.ObjectType != "user" || compiled.Rule.MetaverseType != "person" {
		t.Fatalf("expected lowercased types, got %q/%q", compiled.Rule.ObjectType, compiled.Rule.MetaverseType)
	}
	if compiled.DeterministicHash == "" {
		t.Fatal("expected a deterministic hash")
	}
}

func TestCompileSyncRuleHashIsStable(t *testing.T) {
	first, _, err := CompileSyncRule(importRuleFixture())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	second, _, err := CompileSyncRule(importRuleFixture())
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if first.DeterministicHash != second.DeterministicHash {
		t.Fatalf("hash changed across identical compiles: %q vs %q", first.DeterministicHash, second.DeterministicHash)
	}
}

func TestCompileSyncRulePriorityConflict(t *testing.T) {
	rule := importRuleFixture()
	rule.Mappings = append(rule.Mappings, SyncRuleMapping{
		ID:              "map-display-dup",
		TargetAttribute: "displayName",
		TargetKind:      KindString,
		Priority:        0,
		Sources:         []MappingSource{{Kind: SourceKindConstant, Constant: attrPtr(StringAttr("displayName", "fallback"))}},
	})
	_, issues, err := CompileSyncRule(rule)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !ContainsRuleErrors(issues) {
		t.Fatal("expected a priority conflict error")
	}
	found := false
	for _, issue := range issues {
		if issue.Code == "priority_conflict" && issue.TargetAttribute == "displayName" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected priority_conflict on displayName, got %#v", issues)
	}
}

func TestCompileSyncRuleRejectsBrokenExpression(t *testing.T) {
	rule := importRuleFixture()
	rule.Mappings[0].Sources = []MappingSource{{Kind: SourceKindExpression, Expression: "cs.name +"}}
	_, issues, err := CompileSyncRule(rule)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !ContainsRuleErrors(issues) {
		t.Fatal("expected expression_invalid to block the rule")
	}
}

func TestCompileSyncRuleMappingWithoutSources(t *testing.T) {
	rule := importRuleFixture()
	rule.Mappings[0].Sources = nil
	_, issues, err := CompileSyncRule(rule)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !ContainsRuleErrors(issues) {
		t.Fatal("expected mapping_has_no_sources to block the rule")
	}
}

func TestCompiledSyncRuleMappingsForTargetOrder(t *testing.T) {
	rule := importRuleFixture()
	rule.Mappings = []SyncRuleMapping{
		{
			ID:              "map-b",
			TargetAttribute: "displayName",
			TargetKind:      KindString,
			Priority:        1,
			Sources:         []MappingSource{{Kind: SourceKindConstant, Constant: attrPtr(StringAttr("displayName", "fallback"))}},
		},
		{
			ID:              "map-a",
			TargetAttribute: "displayName",
			TargetKind:      KindString,
			Priority:        0,
			Sources:         []MappingSource{{Kind: SourceKindAttribute, Attribute: "name"}},
		},
	}
	compiled, issues, err := CompileSyncRule(rule)
	if err != nil || ContainsRuleErrors(issues) {
		t.Fatalf("compile: %v %#v", err, issues)
	}
	mappings := compiled.MappingsForTarget("displayName")
	if len(mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d", len(mappings))
	}
	if mappings[0].Mapping.Priority != 0 || mappings[1].Mapping.Priority != 1 {
		t.Fatalf("mappings not ordered by priority: %d then %d", mappings[0].Mapping.Priority, mappings[1].Mapping.Priority)
	}
}

func TestSyncRuleInScope(t *testing.T) {
	rule := SyncRule{
		ScopeFilter: []ScopeCondition{
			{Attribute: "department", Operator: ScopeEquals, Value: "Engineering"},
			{Attribute: "terminated", Operator: ScopeAbsent},
		},
	}

	in := []AttributeValue{StringAttr("department", "engineering")}
	if !rule.InScope(in) {
		t.Fatal("case-insensitive equals should match")
	}
	out := []AttributeValue{
		StringAttr("department", "engineering"),
		BoolAttr("terminated", true),
	}
	if rule.InScope(out) {
		t.Fatal("absent condition should exclude objects carrying the attribute")
	}
	if rule.InScope(nil) {
		t.Fatal("equals condition should exclude objects missing the attribute")
	}
	if !(SyncRule{}).InScope(nil) {
		t.Fatal("rule without conditions matches everything")
	}
}

func TestSyncRuleValidate(t *testing.T) {
	rule := importRuleFixture()
	rule.SystemID = " "
	if err := rule.Validate(); err == nil {
		t.Fatal("expected missing system id to fail validation")
	}
	rule = importRuleFixture()
	rule.Direction = "sideways"
	if err := rule.Validate(); err == nil {
		t.Fatal("expected invalid direction to fail validation")
	}
}

func attrPtr(value AttributeValue) *AttributeValue {
	return &value
}
