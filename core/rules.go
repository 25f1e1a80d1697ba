package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

type SyncRuleDirection string

const (
	DirectionImport SyncRuleDirection = "import"
	DirectionExport SyncRuleDirection = "export"
)

func (d SyncRuleDirection) IsValid() bool {
	return d == DirectionImport || d == DirectionExport
}

type MappingSourceKind string

const (
	SourceKindAttribute  MappingSourceKind = "attribute"
	SourceKindConstant   MappingSourceKind = "constant"
	SourceKindExpression MappingSourceKind = "expression"
)

// MappingSource is one way to produce a value for a mapping's target
// attribute. Sources are evaluated in order; the first non-null result
// wins.
type MappingSource struct {
	Kind       MappingSourceKind `json:"kind"`
	Attribute  string            `json:"attribute,omitempty"`
	Constant   *AttributeValue   `json:"constant,omitempty"`
	Expression string            `json:"expression,omitempty"`
}

// SyncRuleMapping binds an ordered list of sources to one target
// attribute. Priority resolves conflicts between mappings that target the
// same attribute: lower priority means higher authority, and exactly one
// mapping per (target attribute, priority) pair may exist.
type SyncRuleMapping struct {
	ID              string          `json:"id"`
	TargetAttribute string          `json:"target_attribute"`
	TargetKind      AttributeKind   `json:"target_kind"`
	Priority        int             `json:"priority"`
	Sources         []MappingSource `json:"sources"`
}

type ScopeOperator string

const (
	ScopeEquals    ScopeOperator = "equals"
	ScopeNotEquals ScopeOperator = "not_equals"
	ScopePresent   ScopeOperator = "present"
	ScopeAbsent    ScopeOperator = "absent"
)

// ScopeCondition filters which objects a sync rule applies to. All
// conditions of a rule must hold (conjunction).
type ScopeCondition struct {
	Attribute string        `json:"attribute"`
	Operator  ScopeOperator `json:"operator"`
	Value     string        `json:"value,omitempty"`
}

// MatchingRule joins an imported CSO to a metaverse object by comparing
// one source attribute against one metaverse attribute. Rules are
// evaluated in Order; the first rule yielding exactly one candidate wins.
type MatchingRule struct {
	ID              string `json:"id"`
	Order           int    `json:"order"`
	SourceAttribute string `json:"source_attribute"`
	TargetAttribute string `json:"target_attribute"`
	CaseSensitive   bool   `json:"case_sensitive"`
}

// SyncRule binds a connected-system object type to a metaverse object
// type for one direction of flow.
type SyncRule struct {
	ID            string
	Name          string
	SystemID      string
	ObjectType    string
	MetaverseType string
	Direction     SyncRuleDirection
	Enabled       bool
	Provisioning  bool
	ScopeFilter   []ScopeCondition
	MatchingRules []MatchingRule
	Mappings      []SyncRuleMapping
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r SyncRule) Validate() error {
	if strings.TrimSpace(r.SystemID) == "" {
		return fmt.Errorf("core: sync rule system id is required")
	}
	if strings.TrimSpace(r.ObjectType) == "" || strings.TrimSpace(r.MetaverseType) == "" {
		return fmt.Errorf("core: sync rule object type and metaverse type are required")
	}
	if !r.Direction.IsValid() {
		return fmt.Errorf("core: invalid sync rule direction %q", r.Direction)
	}
	return nil
}

// InScope evaluates the rule's scoping criteria against a set of
// attribute values. Rules without conditions match everything.
func (r SyncRule) InScope(values []AttributeValue) bool {
	if len(r.ScopeFilter) == 0 {
		return true
	}
	grouped := GroupAttributes(values)
	for _, condition := range r.ScopeFilter {
		name := strings.TrimSpace(condition.Attribute)
		present := len(DedupeValues(grouped[name])) > 0
		switch condition.Operator {
		case ScopePresent:
			if !present {
				return false
			}
		case ScopeAbsent:
			if present {
				return false
			}
		case ScopeEquals:
			if !scopeValueMatches(grouped[name], condition.Value) {
				return false
			}
		case ScopeNotEquals:
			if scopeValueMatches(grouped[name], condition.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func scopeValueMatches(values []AttributeValue, expected string) bool {
	for _, value := range values {
		if strings.EqualFold(strings.TrimSpace(fmt.Sprint(value.Interface())), strings.TrimSpace(expected)) {
			return true
		}
	}
	return false
}

type RuleValidationIssueSeverity string

const (
	RuleValidationIssueError   RuleValidationIssueSeverity = "error"
	RuleValidationIssueWarning RuleValidationIssueSeverity = "warning"
)

type RuleValidationIssue struct {
	Code            string
	Message         string
	Severity        RuleValidationIssueSeverity
	MappingID       string
	TargetAttribute string
}

// CompiledMapping is a mapping whose expression sources were compiled at
// rule-save time. Compilation failures surface as issues, never at
// per-object evaluation time.
type CompiledMapping struct {
	Mapping  SyncRuleMapping
	Programs []*CompiledExpression
}

// CompiledSyncRule is the executable form of a sync rule: mappings sorted
// by target attribute then priority, expressions precompiled, and a
// deterministic hash over the normalized rule.
type CompiledSyncRule struct {
	Rule              SyncRule
	Mappings          []CompiledMapping
	DeterministicHash string
}

// CompileSyncRule validates and compiles a sync rule. Error-severity
// issues mean the rule must not be saved; the compiled form is still
// returned for preview purposes.
func CompileSyncRule(rule SyncRule) (CompiledSyncRule, []RuleValidationIssue, error) {
	rule = normalizeSyncRule(rule)
	var issues []RuleValidationIssue

	if err := rule.Validate(); err != nil {
		issues = append(issues, ruleIssue("invalid_rule", err.Error(), "", "", RuleValidationIssueError))
	}

	priorityByTarget := map[string]map[int]string{}
	compiledMappings := make([]CompiledMapping, 0, len(rule.Mappings))
	for _, mapping := range rule.Mappings {
		target := strings.TrimSpace(mapping.TargetAttribute)
		if target == "" {
			issues = append(issues, ruleIssue(
				"target_attribute_missing",
				"core: mapping target attribute is required",
				mapping.ID,
				"",
				RuleValidationIssueError,
			))
			continue
		}
		if existing, duplicate := priorityByTarget[target][mapping.Priority]; duplicate {
			issues = append(issues, ruleIssue(
				"priority_conflict",
				fmt.Sprintf("core: mappings %q and %q both target %q at priority %d", existing, mapping.ID, target, mapping.Priority),
				mapping.ID,
				target,
				RuleValidationIssueError,
			))
		} else {
			if priorityByTarget[target] == nil {
				priorityByTarget[target] = map[int]string{}
			}
			priorityByTarget[target][mapping.Priority] = mapping.ID
		}
		if len(mapping.Sources) == 0 {
			issues = append(issues, ruleIssue(
				"mapping_has_no_sources",
				fmt.Sprintf("core: mapping %q has no sources", mapping.ID),
				mapping.ID,
				target,
				RuleValidationIssueError,
			))
		}

		programs := make([]*CompiledExpression, len(mapping.Sources))
		for i, source := range mapping.Sources {
			switch source.Kind {
			case SourceKindAttribute:
				if strings.TrimSpace(source.Attribute) == "" {
					issues = append(issues, ruleIssue(
						"source_attribute_missing",
						fmt.Sprintf("core: attribute source %d of mapping %q has no attribute", i, mapping.ID),
						mapping.ID,
						target,
						RuleValidationIssueError,
					))
				}
			case SourceKindConstant:
				if source.Constant == nil || source.Constant.IsNull() {
					issues = append(issues, ruleIssue(
						"constant_source_null",
						fmt.Sprintf("core: constant source %d of mapping %q is null", i, mapping.ID),
						mapping.ID,
						target,
						RuleValidationIssueWarning,
					))
				}
			case SourceKindExpression:
				program, compileErr := CompileExpression(source.Expression)
				if compileErr != nil {
					issues = append(issues, ruleIssue(
						"expression_invalid",
						compileErr.Error(),
						mapping.ID,
						target,
						RuleValidationIssueError,
					))
					continue
				}
				programs[i] = program
			default:
				issues = append(issues, ruleIssue(
					"source_kind_unknown",
					fmt.Sprintf("core: unsupported mapping source kind %q", source.Kind),
					mapping.ID,
					target,
					RuleValidationIssueError,
				))
			}
		}
		compiledMappings = append(compiledMappings, CompiledMapping{
			Mapping:  mapping,
			Programs: programs,
		})
	}

	sort.SliceStable(compiledMappings, func(i, j int) bool {
		left := compiledMappings[i].Mapping
		right := compiledMappings[j].Mapping
		if left.TargetAttribute != right.TargetAttribute {
			return left.TargetAttribute < right.TargetAttribute
		}
		if left.Priority != right.Priority {
			return left.Priority < right.Priority
		}
		return left.ID < right.ID
	})

	compiled := CompiledSyncRule{
		Rule:     rule,
		Mappings: compiledMappings,
	}
	hash, err := syncRuleHash(rule)
	if err != nil {
		return CompiledSyncRule{}, nil, err
	}
	compiled.DeterministicHash = hash

	sortRuleValidationIssues(issues)
	return compiled, issues, nil
}

// ContainsRuleErrors reports whether any issue blocks saving the rule.
func ContainsRuleErrors(issues []RuleValidationIssue) bool {
	for _, issue := range issues {
		if issue.Severity == RuleValidationIssueError {
			return true
		}
	}
	return false
}

// MappingsForTarget returns the compiled mappings targeting one attribute
// in priority order.
func (c CompiledSyncRule) MappingsForTarget(name string) []CompiledMapping {
	name = strings.TrimSpace(name)
	var out []CompiledMapping
	for _, mapping := range c.Mappings {
		if mapping.Mapping.TargetAttribute == name {
			out = append(out, mapping)
		}
	}
	return out
}

// TargetAttributes returns the distinct target attribute names in
// deterministic order.
func (c CompiledSyncRule) TargetAttributes() []string {
	seen := map[string]struct{}{}
	var names []string
	for _, mapping := range c.Mappings {
		name := mapping.Mapping.TargetAttribute
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func normalizeSyncRule(rule SyncRule) SyncRule {
	rule.ID = strings.TrimSpace(rule.ID)
	rule.Name = strings.TrimSpace(rule.Name)
	rule.SystemID = strings.TrimSpace(rule.SystemID)
	rule.ObjectType = strings.TrimSpace(strings.ToLower(rule.ObjectType))
	rule.MetaverseType = strings.TrimSpace(strings.ToLower(rule.MetaverseType))
	rule.Direction = SyncRuleDirection(strings.TrimSpace(strings.ToLower(string(rule.Direction))))
	for i, mapping := range rule.Mappings {
		mapping.ID = strings.TrimSpace(mapping.ID)
		mapping.TargetAttribute = strings.TrimSpace(mapping.TargetAttribute)
		for j, source := range mapping.Sources {
			source.Attribute = strings.TrimSpace(source.Attribute)
			source.Expression = strings.TrimSpace(source.Expression)
			mapping.Sources[j] = source
		}
		rule.Mappings[i] = mapping
	}
	sort.SliceStable(rule.MatchingRules, func(i, j int) bool {
		if rule.MatchingRules[i].Order != rule.MatchingRules[j].Order {
			return rule.MatchingRules[i].Order < rule.MatchingRules[j].Order
		}
		return rule.MatchingRules[i].ID < rule.MatchingRules[j].ID
	})
	return rule
}

func ruleIssue(
	code string,
	message string,
	mappingID string,
	targetAttribute string,
	severity RuleValidationIssueSeverity,
) RuleValidationIssue {
	return RuleValidationIssue{
		Code:            strings.TrimSpace(strings.ToLower(code)),
		Message:         strings.TrimSpace(message),
		Severity:        severity,
		MappingID:       strings.TrimSpace(mappingID),
		TargetAttribute: strings.TrimSpace(targetAttribute),
	}
}

func sortRuleValidationIssues(issues []RuleValidationIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		left := issues[i]
		right := issues[j]
		if left.Severity != right.Severity {
			return left.Severity < right.Severity
		}
		if left.Code != right.Code {
			return left.Code < right.Code
		}
		if left.TargetAttribute != right.TargetAttribute {
			return left.TargetAttribute < right.TargetAttribute
		}
		return left.Message < right.Message
	})
}

func syncRuleHash(rule SyncRule) (string, error) {
	payload, err := json.Marshal(struct {
		SystemID      string            `json:"system_id"`
		ObjectType    string            `json:"object_type"`
		MetaverseType string            `json:"metaverse_type"`
		Direction     SyncRuleDirection `json:"direction"`
		Provisioning  bool              `json:"provisioning"`
		ScopeFilter   []ScopeCondition  `json:"scope_filter"`
		MatchingRules []MatchingRule    `json:"matching_rules"`
		Mappings      []SyncRuleMapping `json:"mappings"`
	}{
		SystemID:      rule.SystemID,
		ObjectType:    rule.ObjectType,
		MetaverseType: rule.MetaverseType,
		Direction:     rule.Direction,
		Provisioning:  rule.Provisioning,
		ScopeFilter:   rule.ScopeFilter,
		MatchingRules: rule.MatchingRules,
		Mappings:      rule.Mappings,
	})
	if err != nil {
		return "", fmt.Errorf("core: marshal sync rule payload: %w", err)
	}
	digest := sha256.Sum256(payload)
	return hex.EncodeToString(digest[:]), nil
}
