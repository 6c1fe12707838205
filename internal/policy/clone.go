package policy

// Clone returns a deep copy of the pack. Condition values, action
// parameters and metadata are copied recursively.
func (p *Pack) Clone() *Pack {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Rules != nil {
		cp.Rules = make([]Rule, len(p.Rules))
		for i, r := range p.Rules {
			cp.Rules[i] = r.Clone()
		}
	}
	return &cp
}

func (r Rule) Clone() Rule {
	cp := r
	if r.Conditions != nil {
		cp.Conditions = make([]Condition, len(r.Conditions))
		for i, c := range r.Conditions {
			c.Value = copyValue(c.Value)
			cp.Conditions[i] = c
		}
	}
	if r.Actions != nil {
		cp.Actions = make([]Action, len(r.Actions))
		for i, a := range r.Actions {
			cp.Actions[i] = a.Clone()
		}
	}
	cp.Metadata = copyMap(r.Metadata)
	return cp
}

func (a Action) Clone() Action {
	return Action{Type: a.Type, Parameters: copyMap(a.Parameters)}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}
