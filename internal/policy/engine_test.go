package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/pkg/cel"
)

func singleRulePack(rule Rule) *Pack {
	return &Pack{ID: "test", Name: "test", Version: "1", Rules: []Rule{rule}}
}

func scoreCondition(name string, threshold float64) Condition {
	return Condition{Field: "riskScores." + name, Operator: OpGreaterThan, Value: threshold}
}

func TestEvaluateNoMatchFallsBackToAllow(t *testing.T) {
	engine := NewEngine(DefaultPack())

	result := engine.Evaluate(context.Background(), Context{})

	assert.False(t, result.Triggered)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, ActionAllow, result.Actions[0].Type)
	assert.Equal(t, "GREEN", result.Actions[0].StringParam(ParamChannel))
	assert.Equal(t, 0.1, result.Confidence)
	assert.Equal(t, "No risk detected", result.Reason)
	assert.Empty(t, result.Rules)
}

func TestEvaluateDocForgery(t *testing.T) {
	engine := NewEngine(DefaultPack())

	result := engine.Evaluate(context.Background(), Context{
		RiskScores: map[string]float64{"doc_forgery": 0.9},
	})

	require.True(t, result.Triggered)
	assert.Equal(t, []string{"doc-forgery"}, result.RuleIDs())

	stop, ok := result.FirstAction(ActionStop)
	require.True(t, ok)
	ttl, ok := stop.IntParam(ParamTTL)
	require.True(t, ok)
	assert.Equal(t, 1440, ttl)
	assert.Equal(t, 1.0, result.Confidence)
	assert.Equal(t, "High document forgery risk", result.Reason)
}

func TestRuleTriggerThreshold(t *testing.T) {
	conds := []Condition{scoreCondition("a", 0.5), scoreCondition("b", 0.5), scoreCondition("c", 0.5)}

	tests := []struct {
		name       string
		conditions []Condition
		scores     map[string]float64
		want       bool
		confidence float64
	}{
		{name: "2 of 3", conditions: conds, scores: map[string]float64{"a": 1, "b": 1}, want: true, confidence: 2.0 / 3},
		{name: "1 of 3", conditions: conds, scores: map[string]float64{"a": 1}},
		{name: "1 of 2 is exactly half", conditions: conds[:2], scores: map[string]float64{"a": 1}},
		{name: "2 of 2", conditions: conds[:2], scores: map[string]float64{"a": 1, "b": 1}, want: true, confidence: 1},
		{name: "no conditions", conditions: nil, scores: map[string]float64{"a": 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewEngine(singleRulePack(Rule{
				ID: "r", Name: "r", Enabled: true, Conditions: tt.conditions,
				Actions: []Action{{Type: ActionHold}},
			}))

			result := engine.Evaluate(context.Background(), Context{RiskScores: tt.scores})
			assert.Equal(t, tt.want, result.Triggered)
			if tt.want {
				assert.InDelta(t, tt.confidence, result.Confidence, 1e-9)
			}
		})
	}
}

func TestWeightedConditions(t *testing.T) {
	engine := NewEngine(singleRulePack(Rule{
		ID: "w", Name: "w", Enabled: true,
		Conditions: []Condition{
			{Field: "riskScores.a", Operator: OpGreaterThan, Value: 0.5, Weight: 3},
			{Field: "riskScores.b", Operator: OpGreaterThan, Value: 0.5},
			{Field: "riskScores.c", Operator: OpGreaterThan, Value: 0.5, Weight: 0},
		},
		Actions: []Action{{Type: ActionHold}},
	}))

	result := engine.Evaluate(context.Background(), Context{RiskScores: map[string]float64{"a": 0.9}})
	require.True(t, result.Triggered)
	assert.InDelta(t, 0.6, result.Confidence, 1e-9)
}

func TestDisableRuleStopsTriggering(t *testing.T) {
	engine := NewEngine(DefaultPack())
	input := Context{RiskScores: map[string]float64{"hs_misclassification": 0.95}}

	require.True(t, engine.Evaluate(context.Background(), input).Triggered)

	assert.True(t, engine.DisableRule("hs-misclassification"))
	assert.False(t, engine.Evaluate(context.Background(), input).Triggered)

	assert.True(t, engine.EnableRule("hs-misclassification"))
	assert.True(t, engine.Evaluate(context.Background(), input).Triggered)

	assert.False(t, engine.DisableRule("no-such-rule"))
}

func TestActionsDeduplicatedInPriorityOrder(t *testing.T) {
	notify := Action{Type: ActionNotify, Parameters: map[string]interface{}{"channel": "AMBER", "team": "valuation"}}
	notifyReordered := Action{Type: ActionNotify, Parameters: map[string]interface{}{"team": "valuation", "channel": "AMBER"}}

	pack := &Pack{ID: "p", Version: "1", Rules: []Rule{
		{
			ID: "second", Name: "second", Enabled: true, Priority: 20,
			Conditions: []Condition{scoreCondition("x", 0.1)},
			Actions:    []Action{notifyReordered, {Type: ActionStop, Parameters: map[string]interface{}{"ttl": 60}}},
		},
		{
			ID: "first", Name: "first", Enabled: true, Priority: 10,
			Conditions: []Condition{scoreCondition("x", 0.1)},
			Actions:    []Action{{Type: ActionHold, Parameters: map[string]interface{}{"ttl": 240}}, notify},
		},
	}}
	engine := NewEngine(pack)

	result := engine.Evaluate(context.Background(), Context{RiskScores: map[string]float64{"x": 0.5}})

	require.True(t, result.Triggered)
	assert.Equal(t, []string{"first", "second"}, result.RuleIDs())
	require.Len(t, result.Actions, 3)
	assert.Equal(t, ActionHold, result.Actions[0].Type)
	assert.Equal(t, ActionNotify, result.Actions[1].Type)
	assert.Equal(t, ActionStop, result.Actions[2].Type)
	assert.Equal(t, "first; second", result.Reason)
}

func TestEqualPrioritiesKeepPackOrder(t *testing.T) {
	rule := func(id string) Rule {
		return Rule{
			ID: id, Name: id, Enabled: true, Priority: 5,
			Conditions: []Condition{scoreCondition("x", 0.1)},
			Actions:    []Action{{Type: ActionNotify, Parameters: map[string]interface{}{"from": id}}},
		}
	}
	engine := NewEngine(&Pack{ID: "p", Version: "1", Rules: []Rule{rule("c"), rule("a"), rule("b")}})

	result := engine.Evaluate(context.Background(), Context{RiskScores: map[string]float64{"x": 1}})
	assert.Equal(t, []string{"c", "a", "b"}, result.RuleIDs())
}

func TestGetPolicyPackIsDefensiveCopy(t *testing.T) {
	engine := NewEngine(DefaultPack())

	pack := engine.GetPolicyPack()
	pack.Rules[0].Enabled = false
	pack.Rules[0].Actions[0].Parameters[ParamTTL] = 1
	pack.Rules[1].Conditions[0].Value.([]interface{})[0] = "XX"
	pack.Rules = nil

	fresh := engine.GetPolicyPack()
	require.Len(t, fresh.Rules, 6)
	assert.True(t, fresh.Rules[0].Enabled)
	assert.Equal(t, 1440, fresh.Rules[0].Actions[0].Parameters[ParamTTL])
	assert.Equal(t, "KP", fresh.Rules[1].Conditions[0].Value.([]interface{})[0])
}

func TestNewEngineCopiesInputPack(t *testing.T) {
	pack := DefaultPack()
	engine := NewEngine(pack)

	pack.Rules[0].Enabled = false
	assert.True(t, engine.Evaluate(context.Background(), Context{
		RiskScores: map[string]float64{"doc_forgery": 0.9},
	}).Triggered)
}

func TestAddAndRemoveRule(t *testing.T) {
	fixed := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	engine := NewEngine(DefaultPack(), WithClock(func() time.Time { return fixed }))

	rule := Rule{
		ID: "high-value", Name: "High value", Enabled: true, Priority: 5,
		Conditions: []Condition{{Field: "declaration.total_invoice_value_usd", Operator: OpGreaterThan, Value: 1000000}},
		Actions:    []Action{{Type: ActionHold, Parameters: map[string]interface{}{"ttl": 120}}},
	}
	input := Context{Declaration: map[string]interface{}{"total_invoice_value_usd": 2500000.0}}

	assert.False(t, engine.Evaluate(context.Background(), input).Triggered)

	require.True(t, engine.AddRule(rule))
	assert.False(t, engine.AddRule(rule), "duplicate id must be rejected")
	assert.Equal(t, fixed, engine.GetPolicyPack().UpdatedAt)
	assert.Equal(t, []string{"high-value"}, engine.Evaluate(context.Background(), input).RuleIDs())

	require.True(t, engine.RemoveRule("high-value"))
	assert.False(t, engine.RemoveRule("high-value"))
	assert.False(t, engine.Evaluate(context.Background(), input).Triggered)
}

func TestUpdatePolicyPackReplacesWholesale(t *testing.T) {
	engine := NewEngine(DefaultPack())

	engine.UpdatePolicyPack(&Pack{ID: "empty", Version: "2.0.0"})

	assert.Equal(t, "2.0.0", engine.PackVersion())
	result := engine.Evaluate(context.Background(), Context{
		RiskScores: map[string]float64{"doc_forgery": 0.99},
	})
	assert.False(t, result.Triggered)
	assert.Equal(t, "2.0.0", result.PackVersion)
}

func TestResultCarriesEvaluatedPackVersion(t *testing.T) {
	engine := NewEngine(DefaultPack())
	forged := Context{RiskScores: map[string]float64{"doc_forgery": 0.99}}

	result := engine.Evaluate(context.Background(), forged)
	require.True(t, result.Triggered)
	assert.Equal(t, DefaultPack().Version, result.PackVersion)
}

func TestConcurrentEvaluateAndMutate(t *testing.T) {
	engine := NewEngine(DefaultPack())
	input := Context{RiskScores: map[string]float64{"doc_forgery": 0.9}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r := engine.Evaluate(context.Background(), input)
				if r.Triggered {
					assert.Equal(t, "doc-forgery", r.Rules[0].ID)
				}
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				engine.DisableRule("doc-forgery")
				engine.EnableRule("doc-forgery")
			}
		}()
	}
	wg.Wait()
}

func TestExpressionOperator(t *testing.T) {
	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)

	rule := Rule{
		ID: "any-sanctioned", Name: "Any sanctioned item", Enabled: true,
		Conditions: []Condition{
			{Operator: OpExpression, Value: `items.exists(i, i.country_origin in ["KP", "IR"])`},
		},
		Actions: []Action{{Type: ActionStop}},
	}
	input := Context{Items: []map[string]interface{}{
		{"country_origin": "CN"},
		{"country_origin": "IR"},
	}}

	withCEL := NewEngine(singleRulePack(rule), WithExpressions(evaluator))
	assert.True(t, withCEL.Evaluate(context.Background(), input).Triggered)

	withoutCEL := NewEngine(singleRulePack(rule))
	assert.False(t, withoutCEL.Evaluate(context.Background(), input).Triggered)

	broken := rule
	broken.Conditions = []Condition{{Operator: OpExpression, Value: `riskScores.missing > 0.5`}}
	assert.False(t, NewEngine(singleRulePack(broken), WithExpressions(evaluator)).
		Evaluate(context.Background(), input).Triggered)
}
