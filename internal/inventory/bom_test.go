package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestResolveRequirementsPrefersVariantRow(t *testing.T) {
	maps := []MaterialMap{
		{ProductID: "tee", SkuID: "blank-m", QtyPerUnit: dec(1)},
		{ProductID: "tee", VariantID: strPtr("xl"), SkuID: "blank-m", QtyPerUnit: dec(2)},
		{ProductID: "tee", SkuID: "ink", QtyPerUnit: decimal.RequireFromString("0.25")},
	}
	lines := []BatchLine{
		{ProductID: "tee", VariantID: "m", Qty: 3},
		{ProductID: "tee", VariantID: "xl", Qty: 2},
	}

	reqs := ResolveRequirements(lines, maps)
	require.Len(t, reqs, 2)
	require.Equal(t, "blank-m", reqs[0].SkuID)
	require.True(t, reqs[0].Qty.Equal(dec(7)), reqs[0].Qty.String())
	require.Equal(t, "ink", reqs[1].SkuID)
	require.True(t, reqs[1].Qty.Equal(decimal.RequireFromString("1.25")))
}

func TestResolveRequirementsVariantOnlyRow(t *testing.T) {
	maps := []MaterialMap{
		{ProductID: "hoodie", VariantID: strPtr("navy"), SkuID: "thread-navy", QtyPerUnit: dec(5)},
	}
	lines := []BatchLine{
		{ProductID: "hoodie", VariantID: "grey", Qty: 4},
		{ProductID: "hoodie", VariantID: "navy", Qty: 1},
	}
	reqs := ResolveRequirements(lines, maps)
	require.Len(t, reqs, 1)
	require.True(t, reqs[0].Qty.Equal(dec(5)))
}

func TestResolveRequirementsUnmapped(t *testing.T) {
	reqs := ResolveRequirements([]BatchLine{{ProductID: "mug", VariantID: "white", Qty: 10}}, nil)
	require.Empty(t, reqs)
}

func TestGreedyPicker(t *testing.T) {
	picker := GreedyPicker{}
	_, ok := picker.Pick(dec(1), nil)
	require.False(t, ok)

	candidates := []Stock{
		{LocationID: "b", OnHand: dec(5), Reserved: dec(0)},
		{LocationID: "a", OnHand: dec(5), Reserved: dec(0)},
		{LocationID: "c", OnHand: dec(9), Reserved: dec(8)},
	}
	alloc, ok := picker.Pick(dec(4), candidates)
	require.True(t, ok)
	require.True(t, alloc.Sufficient)
	require.Equal(t, "a", alloc.LocationID)

	alloc, ok = picker.Pick(dec(6), candidates)
	require.True(t, ok)
	require.False(t, alloc.Sufficient)
	require.Equal(t, "c", alloc.LocationID)
}
