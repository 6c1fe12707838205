package screening

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	fieldItemValue  = "invoice_value_usd"
	fieldTotalValue = "total_invoice_value_usd"
	fieldItemCount  = "item_count"
)

// aggregate derives declaration-level totals from the line items. A count or
// total already present on the declaration is kept. Item values that are not
// numeric are skipped.
func aggregate(declaration map[string]interface{}, items []map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(declaration)+2)
	for k, v := range declaration {
		out[k] = v
	}
	if _, ok := out[fieldItemCount]; !ok {
		out[fieldItemCount] = len(items)
	}

	if _, ok := out[fieldTotalValue]; ok {
		return out
	}

	total := decimal.Zero
	for _, item := range items {
		if v, err := toDecimal(item[fieldItemValue]); err == nil {
			total = total.Add(v)
		}
	}
	f, _ := total.Round(2).Float64()
	out[fieldTotalValue] = f
	return out
}

func toDecimal(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case nil:
		return decimal.Zero, fmt.Errorf("missing value")
	}
	return decimal.Zero, fmt.Errorf("unsupported value type %T", v)
}
