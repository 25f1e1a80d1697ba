package core

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type MatchOutcomeKind string

const (
	MatchJoined     MatchOutcomeKind = "joined"
	MatchProjected  MatchOutcomeKind = "projected"
	MatchAmbiguous  MatchOutcomeKind = "ambiguous"
	MatchNone       MatchOutcomeKind = "no_match"
	MatchOutOfScope MatchOutcomeKind = "out_of_scope"
)

// MatchOutcome describes how an imported CSO relates to the metaverse.
// MetaverseID is set for joins and projections; CandidateIDs carries the
// conflicting candidates on ambiguity.
type MatchOutcome struct {
	Kind         MatchOutcomeKind
	MetaverseID  string
	RuleID       string
	CandidateIDs []string
	FlowIssues   []FlowIssue
}

type Matcher struct {
	metaverseStore MetaverseStore
	flow           *FlowEvaluator
	clock          func() time.Time
	idGenerator    func() string
}

type MatcherOption func(*Matcher)

func WithMatcherClock(clock func() time.Time) MatcherOption {
	return func(m *Matcher) {
		if clock != nil {
			m.clock = clock
		}
	}
}

func WithMatcherIDGenerator(generator func() string) MatcherOption {
	return func(m *Matcher) {
		if generator != nil {
			m.idGenerator = generator
		}
	}
}

func NewMatcher(metaverseStore MetaverseStore, flow *FlowEvaluator, options ...MatcherOption) (*Matcher, error) {
	if metaverseStore == nil {
		return nil, fmt.Errorf("core: matcher requires a metaverse store")
	}
	if flow == nil {
		return nil, fmt.Errorf("core: matcher requires a flow evaluator")
	}
	matcher := &Matcher{
		metaverseStore: metaverseStore,
		flow:           flow,
		clock:          func() time.Time { return time.Now().UTC() },
		idGenerator:    defaultIDGenerator,
	}
	for _, option := range options {
		if option != nil {
			option(matcher)
		}
	}
	return matcher, nil
}

// Match finds or creates the metaverse object for an imported CSO.
// Matching rules across all applicable import rules are evaluated in
// order; the first rule yielding exactly one candidate joins. More than
// one candidate under a single rule is a hard failure carrying the
// candidate ids. Zero candidates across all rules projects a new
// metaverse object when a provisioning rule applies.
func (m *Matcher) Match(
	ctx context.Context,
	cso ConnectedSystemObject,
	rules []CompiledSyncRule,
) (MatchOutcome, error) {
	applicable := applicableRules(rules, cso, DirectionImport)
	if len(applicable) == 0 {
		return MatchOutcome{Kind: MatchOutOfScope}, nil
	}

	grouped := GroupAttributes(cso.Attributes)
	for _, entry := range orderedMatchingRules(applicable) {
		candidates, err := m.candidatesFor(ctx, entry, grouped)
		if err != nil {
			return MatchOutcome{}, err
		}
		switch len(candidates) {
		case 0:
			continue
		case 1:
			return MatchOutcome{
				Kind:        MatchJoined,
				MetaverseID: candidates[0],
				RuleID:      entry.matching.ID,
			}, nil
		default:
			matchErr := &MultipleMatchesError{
				RuleID:       entry.matching.ID,
				CandidateIDs: candidates,
			}
			return MatchOutcome{
				Kind:         MatchAmbiguous,
				RuleID:       entry.matching.ID,
				CandidateIDs: candidates,
			}, matchErr
		}
	}

	provisioning, ok := provisioningRule(applicable)
	if !ok {
		return MatchOutcome{Kind: MatchNone}, nil
	}
	return m.project(ctx, cso, provisioning, rules)
}

func (m *Matcher) project(
	ctx context.Context,
	cso ConnectedSystemObject,
	rule CompiledSyncRule,
	rules []CompiledSyncRule,
) (MatchOutcome, error) {
	now := m.clock()
	mvo := MetaverseObject{
		ID:         m.idGenerator(),
		ObjectType: rule.Rule.MetaverseType,
		Status:     MetaverseStatusActive,
		BuiltIn:    false,
		CreatedBy:  cso.SystemID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	flowResult := m.flow.ComputeImportFlow(mvo, cso, rules)
	mvo.Attributes = flowResult.Attributes

	created, err := m.metaverseStore.Create(ctx, mvo)
	if err != nil {
		return MatchOutcome{}, fmt.Errorf("core: project metaverse object: %w", err)
	}
	return MatchOutcome{
		Kind:        MatchProjected,
		MetaverseID: created.ID,
		RuleID:      rule.Rule.ID,
		FlowIssues:  flowResult.Issues,
	}, nil
}

type matchingRuleEntry struct {
	rule     SyncRule
	matching MatchingRule
}

func (m *Matcher) candidatesFor(
	ctx context.Context,
	entry matchingRuleEntry,
	grouped map[string][]AttributeValue,
) ([]string, error) {
	values := DedupeValues(grouped[entry.matching.SourceAttribute])
	if len(values) == 0 {
		return nil, nil
	}

	seen := map[string]struct{}{}
	var candidates []string
	for _, value := range values {
		matches, err := m.metaverseStore.FindByAttribute(
			ctx,
			entry.rule.MetaverseType,
			entry.matching.TargetAttribute,
			value.ValueKey(),
			!entry.matching.CaseSensitive,
		)
		if err != nil {
			return nil, fmt.Errorf("core: matching rule %q candidate lookup: %w", entry.matching.ID, err)
		}
		for _, candidate := range matches {
			if candidate.Status == MetaverseStatusObsolete {
				continue
			}
			if _, duplicate := seen[candidate.ID]; duplicate {
				continue
			}
			seen[candidate.ID] = struct{}{}
			candidates = append(candidates, candidate.ID)
		}
	}
	sort.Strings(candidates)
	return candidates, nil
}

func orderedMatchingRules(rules []CompiledSyncRule) []matchingRuleEntry {
	var entries []matchingRuleEntry
	for _, rule := range rules {
		for _, matching := range rule.Rule.MatchingRules {
			entries = append(entries, matchingRuleEntry{rule: rule.Rule, matching: matching})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].matching.Order != entries[j].matching.Order {
			return entries[i].matching.Order < entries[j].matching.Order
		}
		return entries[i].matching.ID < entries[j].matching.ID
	})
	return entries
}

func provisioningRule(rules []CompiledSyncRule) (CompiledSyncRule, bool) {
	for _, rule := range rules {
		if rule.Rule.Provisioning {
			return rule, true
		}
	}
	return CompiledSyncRule{}, false
}
