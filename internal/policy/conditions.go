package policy

import (
	"context"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// document flattens the context into the generic tree that field paths
// are resolved against.
func (c Context) document() map[string]interface{} {
	scores := make(map[string]interface{}, len(c.RiskScores))
	for k, v := range c.RiskScores {
		scores[k] = v
	}

	items := make([]interface{}, len(c.Items))
	for i, item := range c.Items {
		items[i] = item
	}

	declaration := c.Declaration
	if declaration == nil {
		declaration = map[string]interface{}{}
	}

	doc := map[string]interface{}{
		"declaration": declaration,
		"riskScores":  scores,
		"items":       items,
	}
	if c.User != nil {
		doc["user"] = c.User
	}
	if !c.Timestamp.IsZero() {
		doc["timestamp"] = c.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return doc
}

// ResolvePath walks a dot separated path. A missing key, an out of range
// index or a scalar in an intermediate position makes the whole path
// undefined (ok == false). A present null leaf resolves to (nil, true).
func ResolvePath(root interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	current := root
	for _, segment := range strings.Split(path, ".") {
		next, ok := child(current, segment)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func child(container interface{}, segment string) (interface{}, bool) {
	switch c := container.(type) {
	case nil:
		return nil, false
	case map[string]interface{}:
		v, ok := c[segment]
		return v, ok
	case []interface{}:
		idx, ok := index(segment, len(c))
		if !ok {
			return nil, false
		}
		return c[idx], true
	}

	rv := reflect.ValueOf(container)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(segment).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		return v.Interface(), true
	case reflect.Slice, reflect.Array:
		idx, ok := index(segment, rv.Len())
		if !ok {
			return nil, false
		}
		return rv.Index(idx).Interface(), true
	case reflect.Ptr:
		if rv.IsNil() {
			return nil, false
		}
		return child(rv.Elem().Interface(), segment)
	}
	return nil, false
}

func index(segment string, length int) (int, bool) {
	i, err := strconv.Atoi(segment)
	if err != nil || i < 0 || i >= length {
		return 0, false
	}
	return i, true
}

// matchCondition evaluates a single condition. It never fails: anything
// that cannot be compared is simply not a match.
func (e *Engine) matchCondition(ctx context.Context, cond Condition, doc map[string]interface{}, input Context) bool {
	if cond.Operator == OpExpression {
		return e.matchExpression(ctx, cond, doc, input)
	}

	actual, present := ResolvePath(doc, cond.Field)
	if !present {
		return false
	}

	switch cond.Operator {
	case OpEquals:
		return looseEquals(actual, cond.Value)
	case OpGreaterThan:
		return toNumber(actual) > toNumber(cond.Value)
	case OpLessThan:
		return toNumber(actual) < toNumber(cond.Value)
	case OpContains:
		return strings.Contains(toText(actual), toText(cond.Value))
	case OpIn:
		members, ok := asList(cond.Value)
		return ok && contains(members, actual)
	case OpNotIn:
		members, ok := asList(cond.Value)
		return ok && !contains(members, actual)
	}
	return false
}

func (e *Engine) matchExpression(ctx context.Context, cond Condition, doc map[string]interface{}, input Context) bool {
	expr, ok := cond.Value.(string)
	if !ok || expr == "" || e.expressions == nil {
		return false
	}

	vars := map[string]interface{}{
		"declaration": doc["declaration"],
		"riskScores":  doc["riskScores"],
		"items":       doc["items"],
		"user":        doc["user"],
	}
	if !input.Timestamp.IsZero() {
		vars["timestamp"] = input.Timestamp
	}

	matched, err := e.expressions.EvaluateCondition(ctx, expr, vars)
	if err != nil {
		return false
	}
	return matched
}

// looseEquals is strict equality between scalars. Numbers compare by value
// across Go numeric types; containers are never equal.
func looseEquals(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := numeric(a); ok {
		fb, ok := numeric(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// toNumber coerces for ordering comparisons. Blank strings and null are 0,
// booleans are 1 or 0, unparseable values are NaN so every comparison
// against them is false.
func toNumber(v interface{}) float64 {
	if f, ok := numeric(v); ok {
		return f
	}
	switch t := v.(type) {
	case nil:
		return 0
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func toText(v interface{}) string {
	if f, ok := numeric(v); ok {
		return formatNumber(f)
	}
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	}
	if list, ok := asList(v); ok {
		parts := make([]string, len(list))
		for i, e := range list {
			if e != nil {
				parts[i] = toText(e)
			}
		}
		return strings.Join(parts, ",")
	}
	return "[object Object]"
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func asList(v interface{}) ([]interface{}, bool) {
	if list, ok := v.([]interface{}); ok {
		return list, true
	}
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	list := make([]interface{}, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}

func contains(members []interface{}, v interface{}) bool {
	for _, m := range members {
		if looseEquals(v, m) {
			return true
		}
	}
	return false
}
