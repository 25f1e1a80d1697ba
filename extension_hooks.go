package metasync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-metasync/core"
)

// ConnectorPack is a named set of connectors registered together, e.g. all
// connectors a deployment ships for one vendor suite.
type ConnectorPack struct {
	Name       string
	Connectors []core.Connector
}

// RulePack is a named set of sync rule templates for one system. Applying
// the pack saves each rule through the engine so it runs the same
// validation as rules created at runtime.
type RulePack struct {
	Name     string
	SystemID string
	Rules    []core.SyncRule
}

type CommandQueryBundleFactory func(engine CommandQueryEngine) (any, error)

// ExtensionHooks lets embedding applications contribute connectors, rule
// templates and command/query bundles without touching engine wiring.
type ExtensionHooks struct {
	mu sync.RWMutex

	connectorPacks map[string]ConnectorPack
	rulePacks      map[string]RulePack
	bundles        map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		connectorPacks: map[string]ConnectorPack{},
		rulePacks:      map[string]RulePack{},
		bundles:        map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterConnectorPack(pack ConnectorPack) error {
	if h == nil {
		return fmt.Errorf("metasync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("metasync: connector pack name is required")
	}
	if len(pack.Connectors) == 0 {
		return fmt.Errorf("metasync: connector pack %q has no connectors", name)
	}

	normalized := ConnectorPack{
		Name:       name,
		Connectors: append([]core.Connector(nil), pack.Connectors...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.connectorPacks[name]; exists {
		return fmt.Errorf("metasync: connector pack %q already registered", name)
	}
	h.connectorPacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterRulePack(pack RulePack) error {
	if h == nil {
		return fmt.Errorf("metasync: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	systemID := strings.TrimSpace(pack.SystemID)
	if name == "" {
		return fmt.Errorf("metasync: rule pack name is required")
	}
	if systemID == "" {
		return fmt.Errorf("metasync: rule pack %q system id is required", name)
	}
	if len(pack.Rules) == 0 {
		return fmt.Errorf("metasync: rule pack %q has no rules", name)
	}

	normalized := RulePack{
		Name:     name,
		SystemID: systemID,
		Rules:    append([]core.SyncRule(nil), pack.Rules...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.rulePacks[name]; exists {
		return fmt.Errorf("metasync: rule pack %q already registered", name)
	}
	h.rulePacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("metasync: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("metasync: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("metasync: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("metasync: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

// ApplyConnectorPacks registers every pack's connectors on the registry in
// pack name order.
func (h *ExtensionHooks) ApplyConnectorPacks(registry core.ConnectorRegistry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("metasync: connector registry is required")
	}

	for _, pack := range h.ConnectorPacks() {
		for _, connector := range pack.Connectors {
			if connector == nil {
				return fmt.Errorf("metasync: connector pack %q contains nil connector", pack.Name)
			}
			if err := registry.Register(connector); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyRulePacks saves every pack's rules through the engine. A rule that
// fails validation aborts the apply.
func (h *ExtensionHooks) ApplyRulePacks(ctx context.Context, engine CommandQueryEngine) error {
	if h == nil {
		return nil
	}
	if engine == nil {
		return fmt.Errorf("metasync: command/query engine is required")
	}

	for _, pack := range h.RulePacks() {
		for _, rule := range pack.Rules {
			if rule.SystemID == "" {
				rule.SystemID = pack.SystemID
			}
			if _, _, err := engine.SaveSyncRule(ctx, rule); err != nil {
				return fmt.Errorf("metasync: rule pack %q: %w", pack.Name, err)
			}
		}
	}
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	engine CommandQueryEngine,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if engine == nil {
		return nil, fmt.Errorf("metasync: command/query engine is required")
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](engine)
		if err != nil {
			return nil, err
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) ConnectorPacks() []ConnectorPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.connectorPacks))
	for name := range h.connectorPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ConnectorPack, 0, len(names))
	for _, name := range names {
		pack := h.connectorPacks[name]
		out = append(out, ConnectorPack{
			Name:       pack.Name,
			Connectors: append([]core.Connector(nil), pack.Connectors...),
		})
	}
	return out
}

func (h *ExtensionHooks) RulePacks() []RulePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.rulePacks))
	for name := range h.rulePacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]RulePack, 0, len(names))
	for _, name := range names {
		pack := h.rulePacks[name]
		out = append(out, RulePack{
			Name:     pack.Name,
			SystemID: pack.SystemID,
			Rules:    append([]core.SyncRule(nil), pack.Rules...),
		})
	}
	return out
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.bundles))
	for name := range h.bundles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
