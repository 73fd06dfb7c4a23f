package broker

import (
	"sync"
)

// Admission is the result of a symbol admissibility lookup
type Admission struct {
	Allowed      bool   `json:"allowed"`
	BrokerSymbol string `json:"broker_symbol,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// SymbolRule maps a universal symbol for one broker
type SymbolRule struct {
	BrokerSymbol string
	// Categories restricts admission to listed agent categories when set
	Categories []string
}

// SymbolMap answers (universalSymbol, broker, agentCategory) admissibility.
// Mappings are deterministic; lookups are cached by construction since the
// rule table is immutable after creation.
type SymbolMap struct {
	mu    sync.RWMutex
	rules map[string]map[string]SymbolRule // broker -> universal symbol -> rule
}

// NewSymbolMap creates an empty symbol map
func NewSymbolMap() *SymbolMap {
	return &SymbolMap{rules: make(map[string]map[string]SymbolRule)}
}

// AddRule registers a symbol mapping for a broker
func (m *SymbolMap) AddRule(brokerName, universalSymbol string, rule SymbolRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rules[brokerName] == nil {
		m.rules[brokerName] = make(map[string]SymbolRule)
	}
	m.rules[brokerName][universalSymbol] = rule
}

// Admit resolves the broker symbol for a universal symbol, applying any
// category constraint. A rejection is an exclusion reason, never an error.
func (m *SymbolMap) Admit(universalSymbol, brokerName, agentCategory string) Admission {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byBroker, ok := m.rules[brokerName]
	if !ok {
		return Admission{Reason: "broker has no symbol mappings"}
	}
	rule, ok := byBroker[universalSymbol]
	if !ok {
		return Admission{Reason: "symbol not admitted by broker"}
	}

	if len(rule.Categories) > 0 && agentCategory != "" {
		found := false
		for _, c := range rule.Categories {
			if c == agentCategory {
				found = true
				break
			}
		}
		if !found {
			return Admission{Reason: "symbol not admitted for agent category"}
		}
	}

	return Admission{Allowed: true, BrokerSymbol: rule.BrokerSymbol}
}
