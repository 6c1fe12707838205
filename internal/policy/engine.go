package policy

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"revguard/pkg/cel"
)

const (
	triggerThreshold   = 0.5
	fallbackConfidence = 0.1
	fallbackReason     = "No risk detected"
	fallbackChannel    = "GREEN"
)

// Engine evaluates declarations against the active policy pack. Readers
// load the pack pointer without locking; writers build a modified copy
// under mu and swap it in, so an in-flight evaluation always sees one
// consistent pack.
type Engine struct {
	pack        atomic.Pointer[Pack]
	mu          sync.Mutex
	expressions *cel.Evaluator
	now         func() time.Time
}

type EngineOption func(*Engine)

// WithExpressions enables the expression operator.
func WithExpressions(evaluator *cel.Evaluator) EngineOption {
	return func(e *Engine) {
		e.expressions = evaluator
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(pack *Pack, opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	if pack == nil {
		pack = DefaultPack()
	}
	e.pack.Store(pack.Clone())
	return e
}

func (e *Engine) Evaluate(ctx context.Context, input Context) Result {
	pack := e.pack.Load()
	doc := input.document()

	var (
		triggered  []Rule
		actions    []Action
		seen       = make(map[string]struct{})
		reasons    []string
		confidence float64
	)

	for _, rule := range activeRules(pack) {
		ruleConfidence := e.ruleConfidence(ctx, rule, doc, input)
		if ruleConfidence <= triggerThreshold {
			continue
		}

		triggered = append(triggered, rule.Clone())
		if ruleConfidence > confidence {
			confidence = ruleConfidence
		}

		reason := rule.Description
		if reason == "" {
			reason = rule.Name
		}
		reasons = append(reasons, reason)

		for _, action := range rule.Actions {
			key := actionKey(action)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			actions = append(actions, action.Clone())
		}
	}

	if len(triggered) == 0 {
		return Result{
			Triggered: false,
			Rules:     []Rule{},
			Actions: []Action{{
				Type:       ActionAllow,
				Parameters: map[string]interface{}{ParamChannel: fallbackChannel},
			}},
			Confidence:  fallbackConfidence,
			Reason:      fallbackReason,
			PackVersion: pack.Version,
		}
	}

	return Result{
		Triggered:  true,
		Rules:      triggered,
		Actions:    actions,
		Confidence:  confidence,
		Reason:      strings.Join(reasons, "; "),
		PackVersion: pack.Version,
	}
}

// activeRules returns enabled rules ordered by ascending priority, keeping
// pack order for equal priorities.
func activeRules(pack *Pack) []Rule {
	rules := make([]Rule, 0, len(pack.Rules))
	for _, r := range pack.Rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	return rules
}

func (e *Engine) ruleConfidence(ctx context.Context, rule Rule, doc map[string]interface{}, input Context) float64 {
	var total, matched float64
	for _, cond := range rule.Conditions {
		w := cond.EffectiveWeight()
		total += w
		if e.matchCondition(ctx, cond, doc, input) {
			matched += w
		}
	}
	if total == 0 {
		return 0
	}
	return matched / total
}

// actionKey identifies duplicate actions. encoding/json sorts map keys so
// parameter order does not matter.
func actionKey(a Action) string {
	params, err := json.Marshal(a.Parameters)
	if err != nil {
		params = []byte("!")
	}
	return string(a.Type) + "|" + string(params)
}

// UpdatePolicyPack replaces the active pack wholesale.
func (e *Engine) UpdatePolicyPack(pack *Pack) {
	if pack == nil {
		return
	}
	cp := pack.Clone()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pack.Store(cp)
}

// GetPolicyPack returns a copy that callers may modify freely.
func (e *Engine) GetPolicyPack() *Pack {
	return e.pack.Load().Clone()
}

func (e *Engine) PackVersion() string {
	return e.pack.Load().Version
}

func (e *Engine) EnableRule(id string) bool {
	return e.mutate(func(p *Pack) bool { return setRuleEnabled(p, id, true) })
}

func (e *Engine) DisableRule(id string) bool {
	return e.mutate(func(p *Pack) bool { return setRuleEnabled(p, id, false) })
}

// AddRule appends rule to the pack. It reports false, leaving the pack
// untouched, when a rule with the same id already exists.
func (e *Engine) AddRule(rule Rule) bool {
	return e.mutate(func(p *Pack) bool { return addRule(p, rule) })
}

func (e *Engine) RemoveRule(id string) bool {
	return e.mutate(func(p *Pack) bool { return removeRule(p, id) })
}

func (e *Engine) mutate(fn func(*Pack) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	next, ok := e.next(fn)
	if !ok {
		return false
	}
	e.pack.Store(next)
	return true
}

// next applies fn to a copy of the active pack and returns the copy
// without activating it.
func (e *Engine) next(fn func(*Pack) bool) (*Pack, bool) {
	next := e.pack.Load().Clone()
	if !fn(next) {
		return nil, false
	}
	next.UpdatedAt = e.now().UTC()
	return next, true
}

func setRuleEnabled(p *Pack, id string, enabled bool) bool {
	for i := range p.Rules {
		if p.Rules[i].ID == id {
			p.Rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

func addRule(p *Pack, rule Rule) bool {
	for _, r := range p.Rules {
		if r.ID == rule.ID {
			return false
		}
	}
	p.Rules = append(p.Rules, rule.Clone())
	return true
}

func removeRule(p *Pack, id string) bool {
	for i, r := range p.Rules {
		if r.ID == id {
			p.Rules = append(p.Rules[:i], p.Rules[i+1:]...)
			return true
		}
	}
	return false
}
