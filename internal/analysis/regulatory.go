package analysis

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"

	"intelpipe/internal/threat"
)

// Rule maps matching indicators to compliance categories such as "NIS2".
// Every set condition must hold. Expression is CEL evaluated against ioc,
// a map with indicator, type, source, confidence and data keys.
type Rule struct {
	ID            string   `yaml:"id" json:"id"`
	Categories    []string `yaml:"categories" json:"categories"`
	Types         []string `yaml:"types,omitempty" json:"types,omitempty"`
	Sources       []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	MinConfidence float64  `yaml:"min_confidence,omitempty" json:"min_confidence,omitempty"`
	Expression    string   `yaml:"expression,omitempty" json:"expression,omitempty"`
}

type compiledRule struct {
	Rule
	program cel.Program
}

// Regulatory tags each record with the ordered, de-duplicated categories of
// every rule it matches. With no rules every record gets an empty list.
type Regulatory struct {
	rules []compiledRule
}

// NewRegulatory compiles the rule table. A rule without categories or with
// an invalid expression is an error.
func NewRegulatory(rules []Rule) (*Regulatory, error) {
	r := &Regulatory{}
	if len(rules) == 0 {
		return r, nil
	}

	env, err := cel.NewEnv(cel.Variable("ioc", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	for _, rule := range rules {
		if len(rule.Categories) == 0 {
			return nil, fmt.Errorf("rule %q: no categories", rule.ID)
		}
		cr := compiledRule{Rule: rule}
		if rule.Expression != "" {
			ast, issues := env.Compile(rule.Expression)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("rule %q: compile: %w", rule.ID, issues.Err())
			}
			prg, err := env.Program(ast, cel.CostLimit(10000))
			if err != nil {
				return nil, fmt.Errorf("rule %q: program: %w", rule.ID, err)
			}
			cr.program = prg
		}
		r.rules = append(r.rules, cr)
	}
	return r, nil
}

func (r *Regulatory) Name() string { return "regulatory" }

func (r *Regulatory) Analyze(records []*threat.Indicator) []*threat.Indicator {
	for _, rec := range records {
		rec.Compliance = r.Categories(rec)
	}
	return records
}

// Categories returns the categories rec falls under, never nil.
func (r *Regulatory) Categories(rec *threat.Indicator) []string {
	out := []string{}
	if len(r.rules) == 0 {
		return out
	}
	seen := make(map[string]bool)
	var activation map[string]any
	for _, rule := range r.rules {
		if rule.program != nil && activation == nil {
			activation = map[string]any{"ioc": celInput(rec)}
		}
		if !rule.matches(rec, activation) {
			continue
		}
		for _, c := range rule.Categories {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}

func (rule compiledRule) matches(rec *threat.Indicator, activation map[string]any) bool {
	if len(rule.Types) > 0 && !containsFold(rule.Types, rec.Type) {
		return false
	}
	if len(rule.Sources) > 0 && !containsFold(rule.Sources, rec.Source) {
		return false
	}
	if rule.MinConfidence > 0 {
		v, ok := rec.Confidence.Float()
		if !ok || v < rule.MinConfidence {
			return false
		}
	}
	if rule.program == nil {
		return true
	}

	val, _, err := rule.program.Eval(activation)
	if err != nil {
		// missing data keys land here; treat as no match
		slog.Debug("rule evaluation failed", "rule", rule.ID, "indicator", rec.Indicator, "err", err)
		return false
	}
	b, ok := val.Value().(bool)
	return ok && b
}

func celInput(rec *threat.Indicator) map[string]any {
	conf, _ := rec.Confidence.Float()
	data := rec.Data
	if data == nil {
		data = map[string]any{}
	}
	return map[string]any{
		"indicator":  rec.Indicator,
		"type":       rec.Type,
		"source":     rec.Source,
		"confidence": conf,
		"data":       data,
	}
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
