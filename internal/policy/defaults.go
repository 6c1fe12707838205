package policy

import "time"

const (
	DefaultPackID      = "customs-default"
	DefaultPackVersion = "1.0.0"
)

// DefaultPack is the built-in rule set used when neither the version
// store nor a pack file provides one.
func DefaultPack() *Pack {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	return &Pack{
		ID:      DefaultPackID,
		Name:    "Customs revenue risk default pack",
		Version: DefaultPackVersion,
		Settings: Settings{
			DefaultHoldTTL:  480,
			DefaultStopTTL:  1440,
			MaxRiskScore:    1.0,
			EnableMLScoring: true,
		},
		CreatedAt: created,
		UpdatedAt: created,
		Rules: []Rule{
			{
				ID:          "doc-forgery",
				Name:        "Document forgery",
				Description: "High document forgery risk",
				Enabled:     true,
				Priority:    10,
				Conditions: []Condition{
					{Field: "riskScores.doc_forgery", Operator: OpGreaterThan, Value: 0.7},
				},
				Actions: []Action{
					{Type: ActionStop, Parameters: map[string]interface{}{ParamTTL: 1440, ParamReason: "Suspected forged documents"}},
					{Type: ActionNotify, Parameters: map[string]interface{}{ParamChannel: "RED"}},
				},
			},
			{
				ID:          "sanctioned-origin",
				Name:        "Sanctioned origin",
				Description: "Goods originating from a sanctioned country",
				Enabled:     true,
				Priority:    20,
				Conditions: []Condition{
					{Field: "items.0.country_origin", Operator: OpIn, Value: []interface{}{"KP", "IR", "SY", "CU"}},
				},
				Actions: []Action{
					{Type: ActionStop, Parameters: map[string]interface{}{ParamTTL: 2880, ParamReason: "Sanctioned origin"}},
					{Type: ActionEscalate, Parameters: map[string]interface{}{ParamLevel: 2}},
				},
			},
			{
				ID:          "undervaluation",
				Name:        "Undervaluation",
				Description: "Declared value likely understated",
				Enabled:     true,
				Priority:    30,
				Conditions: []Condition{
					{Field: "riskScores.undervaluation", Operator: OpGreaterThan, Value: 0.8, Weight: 2},
					{Field: "declaration.total_invoice_value_usd", Operator: OpGreaterThan, Value: 10000},
				},
				Actions: []Action{
					{Type: ActionHold, Parameters: map[string]interface{}{ParamTTL: 480, ParamReason: "Valuation review"}},
					{Type: ActionNotify, Parameters: map[string]interface{}{ParamChannel: "AMBER"}},
				},
			},
			{
				ID:          "hs-misclassification",
				Name:        "HS misclassification",
				Description: "Tariff classification likely incorrect",
				Enabled:     true,
				Priority:    40,
				Conditions: []Condition{
					{Field: "riskScores.hs_misclassification", Operator: OpGreaterThan, Value: 0.7},
				},
				Actions: []Action{
					{Type: ActionHold, Parameters: map[string]interface{}{ParamTTL: 240, ParamReason: "Classification review"}},
					{Type: ActionNotify, Parameters: map[string]interface{}{ParamChannel: "AMBER"}},
				},
			},
			{
				ID:          "composite-risk",
				Name:        "Composite risk",
				Description: "Several elevated risk indicators",
				Enabled:     true,
				Priority:    50,
				Conditions: []Condition{
					{Field: "riskScores.overall", Operator: OpGreaterThan, Value: 0.6},
					{Field: "riskScores.origin_risk", Operator: OpGreaterThan, Value: 0.5},
					{Field: "riskScores.valuation", Operator: OpGreaterThan, Value: 0.5},
				},
				Actions: []Action{
					{Type: ActionHold, Parameters: map[string]interface{}{ParamTTL: 480, ParamReason: "Composite risk review"}},
					{Type: ActionEscalate, Parameters: map[string]interface{}{ParamLevel: 1}},
				},
			},
			{
				ID:          "trusted-trader",
				Name:        "Trusted trader",
				Description: "Authorised economic operator",
				Enabled:     true,
				Priority:    90,
				Conditions: []Condition{
					{Field: "declaration.trader_tier", Operator: OpEquals, Value: "AEO"},
				},
				Actions: []Action{
					{Type: ActionAllow, Parameters: map[string]interface{}{ParamChannel: "GREEN"}},
				},
			},
		},
	}
}
