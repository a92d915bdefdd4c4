package planner

import (
	"math"

	"github.com/arenadb/arenasql/internal/schema"
)

// operatorCost is the base per-row filter cost.
const operatorCost float32 = 0.0025

// EstimateCost prices a filter against an index:
//
//	k = number of index-leading columns matched exactly by equality filters
//	k == arity and the filter is '='  =>  cost = c           (point lookup)
//	otherwise                          =>  cost = c * 10000 / max(k, 1)
//
// Smaller is better; 10000 stands in for an estimated row count.
func EstimateCost(f Filter, table *schema.Table, index schema.TableIndex) float32 {
	ordinals := table.IndexColumnOrdinals(index)
	matched := 0
	for i, ord := range ordinals {
		if i >= len(f.ProjectedColumns) || f.ProjectedColumns[i] != ord {
			break
		}
		matched++
	}
	if matched == len(ordinals) && f.IsEq() {
		return operatorCost
	}
	if matched < 1 {
		matched = 1
	}
	return operatorCost * 10_000 / float32(matched)
}

// FindIndexWithLowestCost picks the index minimizing the minimum
// filter-cost across filters. Ties keep the earlier index (insertion
// order). Returns nil if there are no filters or no indexes.
func FindIndexWithLowestCost(table *schema.Table, indexes []schema.TableIndex, filters []Filter) *schema.TableIndex {
	if len(filters) == 0 {
		return nil
	}
	var best *schema.TableIndex
	bestCost := float32(math.Inf(1))
	for i := range indexes {
		idx := &indexes[i]
		lowest := float32(math.Inf(1))
		for _, f := range filters {
			if c := EstimateCost(f, table, *idx); c < lowest {
				lowest = c
			}
		}
		if lowest < bestCost {
			best, bestCost = idx, lowest
		}
	}
	return best
}
