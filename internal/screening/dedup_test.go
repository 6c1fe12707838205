package screening

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revguard/internal/config"
	"revguard/internal/logger"
)

func TestHashUsesConfiguredFields(t *testing.T) {
	d := NewDeduplicator(&memoryDedup{}, config.DeduplicationConfig{}, nil, logger.NopLogger())

	a := assessment("DEC-1", map[string]float64{"overall": 0.2})
	b := assessment("DEC-1", map[string]float64{"overall": 0.9})
	b.ID = "other-message"
	assert.Equal(t, d.Hash(a), d.Hash(b), "only declaration id and lodgement time are hashed by default")
	assert.Len(t, d.Hash(a), 64)

	c := assessment("DEC-2", nil)
	assert.NotEqual(t, d.Hash(a), d.Hash(c))

	require.NoError(t, d.UpdateFieldsToHash([]string{"declaration.id", "riskScores.overall"}))
	assert.NotEqual(t, d.Hash(a), d.Hash(b))
	assert.Error(t, d.UpdateFieldsToHash(nil))
}

func TestHashMD5(t *testing.T) {
	d := NewDeduplicator(&memoryDedup{}, config.DeduplicationConfig{HashAlgorithm: "md5"}, nil, logger.NopLogger())
	assert.Len(t, d.Hash(assessment("DEC-1", nil)), 32)
}

func TestAggregate(t *testing.T) {
	decl := map[string]interface{}{"id": "DEC-1"}
	out := aggregate(decl, []map[string]interface{}{
		{"invoice_value_usd": 0.1},
		{"invoice_value_usd": "0.2"},
		{"invoice_value_usd": "n/a"},
		{},
	})

	assert.Equal(t, 0.3, out["total_invoice_value_usd"])
	assert.Equal(t, 4, out["item_count"])
	assert.NotContains(t, decl, "item_count", "input is not mutated")

	kept := aggregate(map[string]interface{}{"total_invoice_value_usd": 99.0}, []map[string]interface{}{{"invoice_value_usd": 1}})
	assert.Equal(t, 99.0, kept["total_invoice_value_usd"])
}

func TestAggregateKeepsDeclaredFields(t *testing.T) {
	tests := []struct {
		name      string
		decl      map[string]interface{}
		wantCount interface{}
		wantTotal interface{}
	}{
		{"derived", map[string]interface{}{}, 2, 3.0},
		{"declared count", map[string]interface{}{"item_count": 7}, 7, 3.0},
		{"declared total", map[string]interface{}{"total_invoice_value_usd": 50.0}, 2, 50.0},
		{"both declared", map[string]interface{}{"item_count": 9, "total_invoice_value_usd": 50.0}, 9, 50.0},
	}
	items := []map[string]interface{}{{"invoice_value_usd": 1}, {"invoice_value_usd": 2}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := aggregate(tt.decl, items)
			assert.Equal(t, tt.wantCount, out["item_count"])
			assert.Equal(t, tt.wantTotal, out["total_invoice_value_usd"])
		})
	}
}

func TestHashIndexesItems(t *testing.T) {
	d := NewDeduplicator(&memoryDedup{}, config.DeduplicationConfig{}, nil, logger.NopLogger())
	require.NoError(t, d.UpdateFieldsToHash([]string{"declaration.id", "items.0.declared_hs"}))

	a := assessment("DEC-1", nil, map[string]interface{}{"declared_hs": "8471.30"})
	b := assessment("DEC-1", nil, map[string]interface{}{"declared_hs": "8528.72"})
	none := assessment("DEC-1", nil)

	assert.NotEqual(t, d.Hash(a), d.Hash(b))
	assert.NotEqual(t, d.Hash(a), d.Hash(none))
	assert.Equal(t, d.Hash(a), d.Hash(assessment("DEC-1", nil, map[string]interface{}{"declared_hs": "8471.30"})))
}
