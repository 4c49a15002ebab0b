package encoding

import (
	"strings"
	"sync"

	"ProcessMCP/internal/protocol"
)

// Strategy is a parameter placement.
type Strategy string

const (
	StrategyTags   Strategy = "tags"
	StrategyData   Strategy = "data"
	StrategyHybrid Strategy = "hybrid"
)

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyTags || s == StrategyData || s == StrategyHybrid
}

// Pin forces a strategy for target ids containing a substring.
type Pin struct {
	Contains string
	Strategy Strategy
}

// DefaultPins route token processes to data and calculators to tags.
func DefaultPins() []Pin {
	return []Pin{
		{Contains: "token", Strategy: StrategyData},
		{Contains: "calculator", Strategy: StrategyTags},
	}
}

// PreferenceStats summarises learned preferences.
type PreferenceStats struct {
	Size    int                 `json:"size"`
	Targets map[string]Strategy `json:"targets"`
}

// Option customises a Selector.
type Option func(*Selector)

// WithPins replaces the default pins.
func WithPins(pins ...Pin) Option {
	return func(s *Selector) {
		s.pins = pins
	}
}

// Selector chooses an encoding strategy per target and handler.
type Selector struct {
	mu      sync.RWMutex
	learned map[string]Strategy
	pins    []Pin
}

// NewSelector returns a selector with an empty preference cache.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{learned: map[string]Strategy{}, pins: DefaultPins()}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Select returns the strategy for handler on targetID.
func (s *Selector) Select(targetID string, handler protocol.HandlerMetadata) Strategy {
	s.mu.RLock()
	learned, ok := s.learned[targetID]
	s.mu.RUnlock()
	if ok {
		return learned
	}

	lower := strings.ToLower(targetID)
	for _, pin := range s.pins {
		if pin.Contains != "" && strings.Contains(lower, strings.ToLower(pin.Contains)) && pin.Strategy.Valid() {
			s.Learn(targetID, pin.Strategy)
			return pin.Strategy
		}
	}
	return Heuristic(handler)
}

// Heuristic picks a strategy from the handler shape alone.
func Heuristic(handler protocol.HandlerMetadata) Strategy {
	params := handler.Parameters
	if len(params) >= 4 {
		return StrategyData
	}
	for _, p := range params {
		if p.Type.Structured() {
			return StrategyData
		}
	}

	if len(params) >= 3 && hasRecipient(params) && hasAmount(params) {
		return StrategyData
	}

	if handler.SemanticCategory() == protocol.CategoryMath {
		return StrategyTags
	}
	if len(params) == 2 && len(handler.NumericParameters()) == 2 {
		return StrategyTags
	}
	return StrategyHybrid
}

func hasRecipient(params []protocol.ParameterSpec) bool {
	for _, p := range params {
		if p.Type == protocol.TypeAddress {
			return true
		}
		switch strings.ToLower(p.Name) {
		case "target", "recipient", "to":
			return true
		}
	}
	return false
}

func hasAmount(params []protocol.ParameterSpec) bool {
	for _, p := range params {
		if p.AmountLike() {
			return true
		}
	}
	return false
}

// Learn records a strategy for targetID, replacing any previous one.
func (s *Selector) Learn(targetID string, strategy Strategy) {
	if targetID == "" || !strategy.Valid() {
		return
	}
	s.mu.Lock()
	s.learned[targetID] = strategy
	s.mu.Unlock()
}

// Clear forgets all learned preferences.
func (s *Selector) Clear() {
	s.mu.Lock()
	s.learned = map[string]Strategy{}
	s.mu.Unlock()
}

// Stats reports the learned preferences.
func (s *Selector) Stats() PreferenceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	targets := make(map[string]Strategy, len(s.learned))
	for k, v := range s.learned {
		targets[k] = v
	}
	return PreferenceStats{Size: len(targets), Targets: targets}
}
