// Package plu repairs the PLU codes of weighed catalog items and prepares
// the corrected catalog for download to the scales.
package plu

import (
	"fmt"

	"github.com/nerrad567/scalesync/internal/catalog"
)

// Allocate computes PLU corrections for items, which must already be
// filtered and sorted (see Filter).
//
// Items keep their PLU when it is numeric, inside their category's range
// and not yet claimed earlier in the walk. Every other item gets the
// smallest free value at or above its category floor. Ties between items
// competing for the same free value are decided by slice order.
//
// Returns:
//   - corrections: New PLUs to push upstream, in walk order
//   - previouslyUsed: PLUs that were already present before allocation
//   - error: ErrNoFreePLU if a category range is exhausted
func Allocate(items []catalog.Item) ([]catalog.Assignment, map[uint16]struct{}, error) {
	used := make(map[uint16]struct{}, len(items))
	for i := range items {
		if plu, ok := items[i].ParsedPLU(); ok {
			used[plu] = struct{}{}
		}
	}

	previouslyUsed := make(map[uint16]struct{}, len(used))
	for plu := range used {
		previouslyUsed[plu] = struct{}{}
	}

	claimed := make(map[uint16]struct{}, len(items))
	var corrections []catalog.Assignment

	for i := range items {
		item := &items[i]

		if plu, ok := item.ParsedPLU(); ok {
			_, taken := claimed[plu]
			if !taken && item.InRange(plu) {
				claimed[plu] = struct{}{}
				continue
			}
		}

		next, err := nextFree(used, item)
		if err != nil {
			return nil, nil, err
		}
		claimed[next] = struct{}{}
		corrections = append(corrections, catalog.Assignment{UPC: item.UPC, PLU: next})
	}

	return corrections, previouslyUsed, nil
}

// nextFree probes upward from the item's category floor and marks the
// first unused value as used.
func nextFree(used map[uint16]struct{}, item *catalog.Item) (uint16, error) {
	floor, ceiling := uint32(catalog.StandardFloor), uint32(catalog.StandardMax)
	if item.IsInternal() {
		floor, ceiling = uint32(catalog.InternalMin), uint32(catalog.InternalMax)
	}

	for probe := floor; probe <= ceiling; probe++ {
		candidate := uint16(probe)
		if _, taken := used[candidate]; taken {
			continue
		}
		used[candidate] = struct{}{}
		return candidate, nil
	}

	return 0, fmt.Errorf("%w: upc %s (range %d-%d)", ErrNoFreePLU, item.UPC, floor, ceiling)
}
