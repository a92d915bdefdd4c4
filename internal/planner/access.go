package planner

import "github.com/arenadb/arenasql/internal/schema"

// Access is the chosen scan strategy for one table reference.
type Access struct {
	// Index is nil for a heap scan.
	Index *schema.TableIndex
	// Lookup means the index covers row-id discovery only and each row is
	// fetched from the Rows CF.
	Lookup bool
}

// ChooseAccess picks the access path for a scan needing the given column
// ordinals: the lowest-cost index for the filters; failing that, the first
// covering index; failing that, a heap scan. A non-unique index that would
// need a table lookup falls back to the heap; the scanner only implements
// lookup for unique indexes.
func ChooseAccess(table *schema.Table, filters []Filter, needed []int) Access {
	basic := basicIndexes(table)

	if idx := FindIndexWithLowestCost(table, basic, filters); idx != nil {
		covered := covers(table, *idx, needed)
		if covered {
			return Access{Index: idx}
		}
		if idx.Provider.Unique {
			return Access{Index: idx, Lookup: true}
		}
		return Access{}
	}

	for i := range basic {
		if covers(table, basic[i], needed) {
			return Access{Index: &basic[i]}
		}
	}
	return Access{}
}

func basicIndexes(table *schema.Table) []schema.TableIndex {
	out := make([]schema.TableIndex, 0, len(table.Indexes))
	for _, idx := range table.Indexes {
		if idx.Provider.Kind == schema.BasicIndex {
			out = append(out, idx)
		}
	}
	return out
}

func covers(table *schema.Table, idx schema.TableIndex, needed []int) bool {
	ordinals := table.IndexColumnOrdinals(idx)
	present := make(map[int]bool, len(ordinals))
	for _, o := range ordinals {
		present[o] = true
	}
	for _, n := range needed {
		if !present[n] {
			return false
		}
	}
	return true
}
