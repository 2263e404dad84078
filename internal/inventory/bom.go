package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// ResolveRequirements folds batch lines through the material maps into per-sku totals.
//
// A variant-specific map row overrides the product-wide row for the same sku.
// Lines whose product has no applicable rows contribute nothing. The result is
// sorted by sku id so callers lock stock rows in a stable order.
func ResolveRequirements(lines []BatchLine, maps []MaterialMap) []Requirement {
	type edgeKey struct {
		productID string
		skuID     string
	}
	wide := make(map[edgeKey]decimal.Decimal)
	specific := make(map[string]map[edgeKey]decimal.Decimal)
	skusByProduct := make(map[string][]string)
	seen := make(map[edgeKey]bool)

	for _, m := range maps {
		k := edgeKey{productID: m.ProductID, skuID: m.SkuID}
		if !seen[k] {
			seen[k] = true
			skusByProduct[m.ProductID] = append(skusByProduct[m.ProductID], m.SkuID)
		}
		if m.VariantID == nil || *m.VariantID == "" {
			wide[k] = m.QtyPerUnit
			continue
		}
		if specific[*m.VariantID] == nil {
			specific[*m.VariantID] = make(map[edgeKey]decimal.Decimal)
		}
		specific[*m.VariantID][k] = m.QtyPerUnit
	}

	totals := make(map[string]decimal.Decimal)
	for _, line := range lines {
		if line.Qty <= 0 {
			continue
		}
		qty := decimal.NewFromInt(int64(line.Qty))
		for _, skuID := range skusByProduct[line.ProductID] {
			k := edgeKey{productID: line.ProductID, skuID: skuID}
			perUnit, ok := specific[line.VariantID][k]
			if !ok {
				perUnit, ok = wide[k]
			}
			if !ok {
				continue
			}
			totals[skuID] = totals[skuID].Add(qty.Mul(perUnit))
		}
	}

	out := make([]Requirement, 0, len(totals))
	for skuID, qty := range totals {
		if !qty.IsPositive() {
			continue
		}
		out = append(out, Requirement{SkuID: skuID, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkuID < out[j].SkuID })
	return out
}

func productIDs(lines []BatchLine) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	sort.Strings(ids)
	return ids
}
