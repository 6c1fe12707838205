package policy

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

type ActionType string

const (
	ActionHold     ActionType = "HOLD"
	ActionStop     ActionType = "STOP"
	ActionAllow    ActionType = "ALLOW"
	ActionEscalate ActionType = "ESCALATE"
	ActionNotify   ActionType = "NOTIFY"
)

func (t ActionType) Valid() bool {
	switch t {
	case ActionHold, ActionStop, ActionAllow, ActionEscalate, ActionNotify:
		return true
	}
	return false
}

type Operator string

const (
	OpEquals      Operator = "equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	// OpExpression evaluates Value as a CEL boolean expression; Field is
	// informational only.
	OpExpression Operator = "expression"
)

func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpGreaterThan, OpLessThan, OpContains, OpIn, OpNotIn, OpExpression:
		return true
	}
	return false
}

// Well-known action parameter keys.
const (
	ParamTTL     = "ttl"
	ParamReason  = "reason"
	ParamLevel   = "level"
	ParamChannel = "channel"
)

type Condition struct {
	Field    string      `json:"field" yaml:"field"`
	Operator Operator    `json:"operator" yaml:"operator"`
	Value    interface{} `json:"value" yaml:"value"`
	Weight   float64     `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// EffectiveWeight treats an unset or non-positive weight as 1.
func (c Condition) EffectiveWeight() float64 {
	if c.Weight <= 0 || math.IsNaN(c.Weight) {
		return 1.0
	}
	return c.Weight
}

type Action struct {
	Type       ActionType             `json:"type" yaml:"type"`
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// IntParam reads a numeric parameter regardless of whether it was decoded
// from JSON (float64), YAML (int) or given as a numeric string.
func (a Action) IntParam(key string) (int, bool) {
	v, ok := a.Parameters[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, false
			}
			return int(f), true
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

func (a Action) StringParam(key string) string {
	if s, ok := a.Parameters[key].(string); ok {
		return s
	}
	return ""
}

type Rule struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool                   `json:"enabled" yaml:"enabled"`
	Priority    int                    `json:"priority" yaml:"priority"`
	Conditions  []Condition            `json:"conditions" yaml:"conditions"`
	Actions     []Action               `json:"actions" yaml:"actions"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type Settings struct {
	DefaultHoldTTL  int     `json:"default_hold_ttl" yaml:"default_hold_ttl"`
	DefaultStopTTL  int     `json:"default_stop_ttl" yaml:"default_stop_ttl"`
	MaxRiskScore    float64 `json:"max_risk_score" yaml:"max_risk_score"`
	EnableMLScoring bool    `json:"enable_ml_scoring" yaml:"enable_ml_scoring"`
}

type Pack struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Version   string    `json:"version" yaml:"version"`
	Rules     []Rule    `json:"rules" yaml:"rules"`
	Settings  Settings  `json:"settings" yaml:"settings"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Context is the per-call evaluation input. Declaration and Items are
// free-form records; conditions address them by dot path.
type Context struct {
	Declaration map[string]interface{}   `json:"declaration"`
	RiskScores  map[string]float64       `json:"riskScores"`
	Items       []map[string]interface{} `json:"items"`
	User        map[string]interface{}   `json:"user,omitempty"`
	Timestamp   time.Time                `json:"timestamp"`
}

type Result struct {
	Triggered  bool     `json:"triggered"`
	Rules      []Rule   `json:"rules"`
	Actions    []Action `json:"actions"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
	// PackVersion is the version of the pack this result was computed with.
	PackVersion string `json:"pack_version,omitempty"`
}

// RuleIDs lists the triggered rule ids in evaluation order.
func (r Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.Rules))
	for _, rule := range r.Rules {
		ids = append(ids, rule.ID)
	}
	return ids
}

// HasAction reports whether the decision carries an action of type t.
func (r Result) HasAction(t ActionType) bool {
	_, ok := r.FirstAction(t)
	return ok
}

func (r Result) FirstAction(t ActionType) (Action, bool) {
	for _, a := range r.Actions {
		if a.Type == t {
			return a, true
		}
	}
	return Action{}, false
}
