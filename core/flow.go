package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FlowIssue reports one mapping evaluation failure. Issues isolate the
// failing mapping; the rest of the flow still applies.
type FlowIssue struct {
	RuleID          string
	MappingID       string
	TargetAttribute string
	Message         string
}

// FlowResult is the outcome of recomputing a metaverse object's
// attributes from one contributing connected system object. The counts
// let callers decide whether the change is material enough to record.
type FlowResult struct {
	Attributes []MetaverseAttributeValue
	Added      int
	Removed    int
	Unchanged  int
	Issues     []FlowIssue
}

// Changed reports whether the flow produced a different attribute set.
func (r FlowResult) Changed() bool {
	return r.Added > 0 || r.Removed > 0
}

type FlowEvaluator struct {
	clock func() time.Time
}

type FlowOption func(*FlowEvaluator)

func WithFlowClock(clock func() time.Time) FlowOption {
	return func(f *FlowEvaluator) {
		if clock != nil {
			f.clock = clock
		}
	}
}

func NewFlowEvaluator(options ...FlowOption) *FlowEvaluator {
	evaluator := &FlowEvaluator{
		clock: func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		if option != nil {
			option(evaluator)
		}
	}
	return evaluator
}

// ComputeImportFlow applies the import-direction mappings of every
// applicable rule to recompute the metaverse object's attributes from
// one contributing CSO. Mappings compete per target attribute; the
// lowest priority with a non-null result wins. Values that survive keep
// their original contribution stamp, new values are stamped with the
// contributing system.
func (f *FlowEvaluator) ComputeImportFlow(
	mvo MetaverseObject,
	cso ConnectedSystemObject,
	rules []CompiledSyncRule,
) FlowResult {
	applicable := applicableRules(rules, cso, DirectionImport)
	result := FlowResult{}

	mvEnv := AttributeEnv(metaverseAttributeValues(mvo.Attributes))
	csEnv := AttributeEnv(cso.Attributes)
	csGrouped := GroupAttributes(cso.Attributes)

	computed := map[string][]AttributeValue{}
	for _, targeted := range targetedMappings(applicable) {
		values, issues := f.evaluateTarget(targeted, csGrouped, mvEnv, csEnv)
		result.Issues = append(result.Issues, issues...)
		computed[targeted.target] = values
	}

	previous := map[string][]MetaverseAttributeValue{}
	for _, value := range mvo.Attributes {
		previous[value.Name] = append(previous[value.Name], value)
	}

	now := f.clock()
	var next []MetaverseAttributeValue
	for _, value := range mvo.Attributes {
		if _, recomputed := computed[value.Name]; !recomputed {
			next = append(next, value)
		}
	}
	for _, target := range sortedTargetNames(computed) {
		before := previous[target]
		beforeKeys := map[string]MetaverseAttributeValue{}
		for _, value := range before {
			beforeKeys[value.ValueKey()] = value
		}
		afterKeys := map[string]struct{}{}
		for _, value := range computed[target] {
			key := value.ValueKey()
			afterKeys[key] = struct{}{}
			if existing, kept := beforeKeys[key]; kept {
				next = append(next, existing)
				result.Unchanged++
				continue
			}
			next = append(next, MetaverseAttributeValue{
				AttributeValue: value,
				ContributedBy:  cso.SystemID,
				ContributedAt:  now,
			})
			result.Added++
		}
		for key := range beforeKeys {
			if _, kept := afterKeys[key]; !kept {
				result.Removed++
			}
		}
	}

	result.Attributes = next
	return result
}

// ComputeExportAttributes evaluates an export-direction rule to produce
// the desired attribute values for a target CSO.
func (f *FlowEvaluator) ComputeExportAttributes(
	mvo MetaverseObject,
	cso ConnectedSystemObject,
	rule CompiledSyncRule,
) ([]AttributeValue, []FlowIssue) {
	if !rule.Rule.Enabled || rule.Rule.Direction != DirectionExport {
		return nil, nil
	}

	mvValues := metaverseAttributeValues(mvo.Attributes)
	mvEnv := AttributeEnv(mvValues)
	csEnv := AttributeEnv(cso.Attributes)
	mvGrouped := GroupAttributes(mvValues)

	var desired []AttributeValue
	var issues []FlowIssue
	for _, target := range rule.TargetAttributes() {
		targeted := targetMappings{
			target:   target,
			mappings: annotateRule(rule.MappingsForTarget(target), rule.Rule.ID),
		}
		values, targetIssues := f.evaluateTarget(targeted, mvGrouped, mvEnv, csEnv)
		issues = append(issues, targetIssues...)
		desired = append(desired, values...)
	}
	return desired, issues
}

type ruleMapping struct {
	ruleID  string
	mapping CompiledMapping
}

type targetMappings struct {
	target   string
	mappings []ruleMapping
}

func (f *FlowEvaluator) evaluateTarget(
	targeted targetMappings,
	sourceGrouped map[string][]AttributeValue,
	mvEnv map[string]any,
	csEnv map[string]any,
) ([]AttributeValue, []FlowIssue) {
	var issues []FlowIssue
	for _, entry := range targeted.mappings {
		values, err := f.evaluateMapping(targeted.target, entry.mapping, sourceGrouped, mvEnv, csEnv)
		if err != nil {
			issues = append(issues, FlowIssue{
				RuleID:          entry.ruleID,
				MappingID:       entry.mapping.Mapping.ID,
				TargetAttribute: targeted.target,
				Message:         err.Error(),
			})
			continue
		}
		if len(values) > 0 {
			return values, issues
		}
	}
	return nil, issues
}

func (f *FlowEvaluator) evaluateMapping(
	target string,
	compiled CompiledMapping,
	sourceGrouped map[string][]AttributeValue,
	mvEnv map[string]any,
	csEnv map[string]any,
) ([]AttributeValue, error) {
	kind := compiled.Mapping.TargetKind
	for i, source := range compiled.Mapping.Sources {
		switch source.Kind {
		case SourceKindAttribute:
			values := DedupeValues(sourceGrouped[source.Attribute])
			if len(values) == 0 {
				continue
			}
			out := make([]AttributeValue, 0, len(values))
			for _, value := range values {
				value.Name = target
				out = append(out, value)
			}
			return out, nil
		case SourceKindConstant:
			if source.Constant == nil || source.Constant.IsNull() {
				continue
			}
			value := *source.Constant
			value.Name = target
			return []AttributeValue{value}, nil
		case SourceKindExpression:
			if i >= len(compiled.Programs) || compiled.Programs[i] == nil {
				return nil, fmt.Errorf("core: expression source %d of mapping %q is not compiled", i, compiled.Mapping.ID)
			}
			raw, err := compiled.Programs[i].Evaluate(mvEnv, csEnv)
			if err != nil {
				return nil, err
			}
			values, err := coerceExpressionValues(target, kind, raw)
			if err != nil {
				return nil, err
			}
			if len(values) == 0 {
				continue
			}
			return DedupeValues(values), nil
		default:
			return nil, fmt.Errorf("core: unsupported mapping source kind %q", source.Kind)
		}
	}
	return nil, nil
}

func coerceExpressionValues(target string, kind AttributeKind, raw any) ([]AttributeValue, error) {
	members, multi := raw.([]any)
	if !multi {
		value, ok, err := CoerceExpressionResult(target, kind, raw)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		return []AttributeValue{value}, nil
	}
	out := make([]AttributeValue, 0, len(members))
	for _, member := range members {
		value, ok, err := CoerceExpressionResult(target, kind, member)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, value)
		}
	}
	return out, nil
}

func applicableRules(rules []CompiledSyncRule, cso ConnectedSystemObject, direction SyncRuleDirection) []CompiledSyncRule {
	objectType := strings.TrimSpace(strings.ToLower(cso.ObjectType))
	var out []CompiledSyncRule
	for _, rule := range rules {
		if !rule.Rule.Enabled || rule.Rule.Direction != direction {
			continue
		}
		if rule.Rule.SystemID != cso.SystemID || rule.Rule.ObjectType != objectType {
			continue
		}
		if !rule.Rule.InScope(cso.Attributes) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// targetedMappings merges mappings across rules per target attribute,
// ordered by priority then rule id so competing rules resolve
// deterministically.
func targetedMappings(rules []CompiledSyncRule) []targetMappings {
	byTarget := map[string][]ruleMapping{}
	for _, rule := range rules {
		for _, mapping := range rule.Mappings {
			target := mapping.Mapping.TargetAttribute
			byTarget[target] = append(byTarget[target], ruleMapping{
				ruleID:  rule.Rule.ID,
				mapping: mapping,
			})
		}
	}
	var out []targetMappings
	for _, target := range sortedTargetKeys(byTarget) {
		mappings := byTarget[target]
		sort.SliceStable(mappings, func(i, j int) bool {
			if mappings[i].mapping.Mapping.Priority != mappings[j].mapping.Mapping.Priority {
				return mappings[i].mapping.Mapping.Priority < mappings[j].mapping.Mapping.Priority
			}
			return mappings[i].ruleID < mappings[j].ruleID
		})
		out = append(out, targetMappings{target: target, mappings: mappings})
	}
	return out
}

func annotateRule(mappings []CompiledMapping, ruleID string) []ruleMapping {
	out := make([]ruleMapping, 0, len(mappings))
	for _, mapping := range mappings {
		out = append(out, ruleMapping{ruleID: ruleID, mapping: mapping})
	}
	return out
}

func metaverseAttributeValues(values []MetaverseAttributeValue) []AttributeValue {
	out := make([]AttributeValue, 0, len(values))
	for _, value := range values {
		out = append(out, value.AttributeValue)
	}
	return out
}

func sortedTargetNames(computed map[string][]AttributeValue) []string {
	names := make([]string, 0, len(computed))
	for name := range computed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedTargetKeys(byTarget map[string][]ruleMapping) []string {
	names := make([]string, 0, len(byTarget))
	for name := range byTarget {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
