package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type SystemConnectorRegistry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewConnectorRegistry() *SystemConnectorRegistry {
	return &SystemConnectorRegistry{connectors: make(map[string]Connector)}
}

func (r *SystemConnectorRegistry) Register(connector Connector) error {
	if connector == nil {
		return fmt.Errorf("core: connector is nil")
	}
	id := strings.TrimSpace(connector.SystemID())
	if id == "" {
		return fmt.Errorf("core: connector system id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[id]; exists {
		return fmt.Errorf("core: connector already registered: %s", id)
	}
	r.connectors[id] = connector
	return nil
}

func (r *SystemConnectorRegistry) Get(systemID string) (Connector, bool) {
	id := strings.TrimSpace(systemID)
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	connector, ok := r.connectors[id]
	r.mu.RUnlock()
	return connector, ok
}

func (r *SystemConnectorRegistry) List() []Connector {
	r.mu.RLock()
	keys := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	connectors := make([]Connector, 0, len(keys))
	for _, id := range keys {
		connectors = append(connectors, r.connectors[id])
	}
	r.mu.RUnlock()
	return connectors
}

var _ ConnectorRegistry = (*SystemConnectorRegistry)(nil)
