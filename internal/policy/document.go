package policy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"revguard/pkg/cel"
)

// ParsePack decodes a pack document. JSON input is detected by a leading
// brace; anything else is read as YAML.
func ParsePack(data []byte) (*Pack, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty policy pack document")
	}

	var pack Pack
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &pack); err != nil {
			return nil, fmt.Errorf("failed to decode JSON policy pack: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &pack); err != nil {
			return nil, fmt.Errorf("failed to decode YAML policy pack: %w", err)
		}
	}
	return &pack, nil
}

func LoadPackFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy pack %s: %w", path, err)
	}
	pack, err := ParsePack(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pack, nil
}

func MarshalPackYAML(p *Pack) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("failed to encode policy pack: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DiffPacks renders a unified diff between the YAML forms of two packs.
// A nil previous pack diffs against an empty document.
func DiffPacks(previous, next *Pack) (string, error) {
	var before, after []byte
	var err error
	if previous != nil {
		if before, err = MarshalPackYAML(previous); err != nil {
			return "", err
		}
	}
	if after, err = MarshalPackYAML(next); err != nil {
		return "", err
	}

	fromFile := "pack@empty"
	if previous != nil {
		fromFile = "pack@" + previous.Version
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: fromFile,
		ToFile:   "pack@" + next.Version,
		Context:  2,
	})
}

// ValidatePack checks a pack before it is activated. Expression conditions
// are compiled when an evaluator is supplied.
func ValidatePack(p *Pack, expressions *cel.Evaluator) error {
	if p == nil {
		return errors.New("policy pack is required")
	}

	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("pack id is required"))
	}
	if p.Version == "" {
		errs = append(errs, errors.New("pack version is required"))
	}
	if p.Settings.DefaultHoldTTL < 0 || p.Settings.DefaultStopTTL < 0 {
		errs = append(errs, errors.New("settings: default TTLs must be non-negative"))
	}

	ids := make(map[string]struct{}, len(p.Rules))
	for i, rule := range p.Rules {
		if _, dup := ids[rule.ID]; dup {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate rule id %q", i, rule.ID))
		}
		ids[rule.ID] = struct{}{}

		if err := ValidateRule(rule, expressions); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func ValidateRule(rule Rule, expressions *cel.Evaluator) error {
	var errs []error
	if rule.ID == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if rule.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if len(rule.Conditions) == 0 {
		errs = append(errs, errors.New("at least one condition is required"))
	}
	if len(rule.Actions) == 0 {
		errs = append(errs, errors.New("at least one action is required"))
	}

	for i, cond := range rule.Conditions {
		if !cond.Operator.Valid() {
			errs = append(errs, fmt.Errorf("conditions[%d]: unknown operator %q", i, cond.Operator))
			continue
		}
		if cond.Weight < 0 {
			errs = append(errs, fmt.Errorf("conditions[%d]: weight must be non-negative", i))
		}
		switch cond.Operator {
		case OpExpression:
			expr, ok := cond.Value.(string)
			if !ok || expr == "" {
				errs = append(errs, fmt.Errorf("conditions[%d]: expression value must be a non-empty string", i))
			} else if expressions != nil {
				if err := expressions.ValidateExpression(expr); err != nil {
					errs = append(errs, fmt.Errorf("conditions[%d]: %w", i, err))
				}
			}
		case OpIn, OpNotIn:
			if cond.Field == "" {
				errs = append(errs, fmt.Errorf("conditions[%d]: field is required", i))
			}
			if _, ok := asList(cond.Value); !ok {
				errs = append(errs, fmt.Errorf("conditions[%d]: %s requires a list value", i, cond.Operator))
			}
		default:
			if cond.Field == "" {
				errs = append(errs, fmt.Errorf("conditions[%d]: field is required", i))
			}
		}
	}

	for i, action := range rule.Actions {
		if !action.Type.Valid() {
			errs = append(errs, fmt.Errorf("actions[%d]: unknown action type %q", i, action.Type))
		}
		if _, set := action.Parameters[ParamTTL]; set {
			if ttl, ok := action.IntParam(ParamTTL); !ok || ttl <= 0 {
				errs = append(errs, fmt.Errorf("actions[%d]: ttl must be a positive number of minutes", i))
			}
		}
	}
	return errors.Join(errs...)
}
