package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Allocation is the location chosen to hold a requirement.
type Allocation struct {
	LocationID string
	Sufficient bool
}

// LocationPicker chooses the stock row a requirement should be held against.
// Candidates are supplied with the batch's previous hold already credited back,
// so a picker sees the same availability on every re-run.
type LocationPicker interface {
	Pick(required decimal.Decimal, candidates []Stock) (Allocation, bool)
}

// GreedyPicker takes the location with the most stock that can cover the
// requirement on its own, falling back to the largest on-hand location.
type GreedyPicker struct{}

// Pick implements LocationPicker.
func (GreedyPicker) Pick(required decimal.Decimal, candidates []Stock) (Allocation, bool) {
	if len(candidates) == 0 {
		return Allocation{}, false
	}
	ordered := make([]Stock, len(candidates))
	copy(ordered, candidates)
	sortByOnHand(ordered)

	for _, s := range ordered {
		if s.Available().GreaterThanOrEqual(required) {
			return Allocation{LocationID: s.LocationID, Sufficient: true}, true
		}
	}
	return Allocation{LocationID: ordered[0].LocationID}, true
}

func sortByOnHand(rows []Stock) {
	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].OnHand.Cmp(rows[j].OnHand); c != 0 {
			return c > 0
		}
		return rows[i].LocationID < rows[j].LocationID
	})
}
