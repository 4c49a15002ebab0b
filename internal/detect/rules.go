package detect

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// IntentRule maps one verb to an operation kind.
type IntentRule struct {
	Verb     string        `yaml:"verb"`
	Kind     OperationType `yaml:"kind"`
	Strength float64       `yaml:"strength"`
	HighRisk bool          `yaml:"high_risk"`
	Domains  []string      `yaml:"domains"`
}

// PatternRule is a regular expression that implies an operation kind.
type PatternRule struct {
	Name    string        `yaml:"name"`
	Expr    string        `yaml:"expr"`
	Kind    OperationType `yaml:"kind"`
	Domains []string      `yaml:"domains"`
}

// RuleSet is the data the detector scores requests against.
type RuleSet struct {
	Intents  []IntentRule  `yaml:"intents"`
	Patterns []PatternRule `yaml:"patterns"`
}

type compiledPattern struct {
	PatternRule
	re *regexp.Regexp
}

type compiledRules struct {
	intents  map[string]IntentRule
	patterns []compiledPattern
}

// DefaultRuleSet returns the built-in rule tables.
func DefaultRuleSet() RuleSet {
	rs, err := ParseRuleSet(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("built-in detection rules are invalid: %v", err))
	}
	return rs
}

// LoadRuleSet reads rule tables from a YAML file.
func LoadRuleSet(path string) (RuleSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read detection rules: %w", err)
	}
	return ParseRuleSet(content)
}

// ParseRuleSet decodes and checks YAML rule tables.
func ParseRuleSet(content []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(content, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("parse detection rules: %w", err)
	}
	if _, err := rs.compile(); err != nil {
		return RuleSet{}, err
	}
	return rs, nil
}

func (rs RuleSet) compile() (*compiledRules, error) {
	out := &compiledRules{intents: make(map[string]IntentRule, len(rs.Intents))}
	for _, intent := range rs.Intents {
		verb := strings.ToLower(strings.TrimSpace(intent.Verb))
		if verb == "" {
			return nil, fmt.Errorf("intent rule without verb")
		}
		if intent.Kind != OperationRead && intent.Kind != OperationWrite {
			return nil, fmt.Errorf("intent %q has invalid kind %q", verb, intent.Kind)
		}
		if intent.Strength <= 0 || intent.Strength > 1 {
			return nil, fmt.Errorf("intent %q strength must be in (0,1]", verb)
		}
		intent.Verb = verb
		out.intents[verb] = intent
	}
	for _, p := range rs.Patterns {
		if p.Kind != OperationRead && p.Kind != OperationWrite {
			return nil, fmt.Errorf("pattern %q has invalid kind %q", p.Name, p.Kind)
		}
		re, err := regexp.Compile("(?i)" + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.Name, err)
		}
		out.patterns = append(out.patterns, compiledPattern{PatternRule: p, re: re})
	}
	return out, nil
}

// lookup finds the intent of a token, trying common inflections.
func (c *compiledRules) lookup(token string) (IntentRule, bool) {
	for _, candidate := range stems(token) {
		if rule, ok := c.intents[candidate]; ok {
			return rule, true
		}
	}
	return IntentRule{}, false
}

var inflections = []string{"ing", "ed", "es", "s", "d"}

// stems returns token followed by its plausible base forms.
func stems(token string) []string {
	out := []string{token}
	for _, suffix := range inflections {
		if !strings.HasSuffix(token, suffix) || len(token) <= len(suffix)+2 {
			continue
		}
		base := strings.TrimSuffix(token, suffix)
		out = append(out, base)
		// transferred -> transferr -> transfer
		if n := len(base); n > 2 && base[n-1] == base[n-2] {
			out = append(out, base[:n-1])
		}
		// creating -> creat -> create
		out = append(out, base+"e")
	}
	return out
}
