package coverage

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/veridia-health/psur-cli/internal/model"
)

// orderQueue produces the final ranked queue from the unresolved slot items.
//
// Ordering rules, in precedence order:
//  1. Topological: a slot ranks after every unresolved slot it lists in
//     must_fill_before / must_have_evidence_before. Dependencies on already
//     filled slots are resolved and impose nothing.
//  2. Pinning: slots flagged as blocking gaps (mandatory obligation with no
//     evidence of a required type at all) move to the head of the queue.
//     Their unresolved prerequisites are hoisted with them so rule 1 is
//     never violated by the hoist.
//  3. Ties among ready slots break by criticality (count of mandatory
//     unsatisfied mapped obligations, descending) then template ordinal.
//
// A dependency cycle among unresolved slots is a configuration error and
// fails the computation outright.
func orderQueue(items []model.QueueSlotItem, defs map[string]model.SlotDefinition) ([]model.QueueSlotItem, error) {
	unresolved := make(map[string]int, len(items)) // slot ID → index into items
	for i, it := range items {
		unresolved[it.SlotID] = i
	}

	// prereqs restricted to unresolved slots.
	prereqs := make(map[string][]string, len(items))
	dependents := make(map[string][]string, len(items))
	indeg := make(map[string]int, len(items))
	for _, it := range items {
		def := defs[it.SlotID]
		seen := map[string]bool{}
		for _, dep := range append(append([]string{}, def.MustFillBefore...), def.MustHaveEvidenceBefore...) {
			if _, ok := unresolved[dep]; !ok || seen[dep] {
				continue
			}
			seen[dep] = true
			prereqs[it.SlotID] = append(prereqs[it.SlotID], dep)
			dependents[dep] = append(dependents[dep], it.SlotID)
			indeg[it.SlotID]++
		}
	}

	// Hoist: a pinned slot's unresolved prerequisites are pinned too.
	pinned := make(map[string]bool, len(items))
	var markPinned func(id string)
	markPinned = func(id string) {
		if pinned[id] {
			return
		}
		pinned[id] = true
		for _, dep := range prereqs[id] {
			markPinned(dep)
		}
	}
	for _, it := range items {
		if it.Pinned {
			markPinned(it.SlotID)
		}
	}

	// Kahn's algorithm with deterministic priority selection among ready
	// nodes: pinned first, then criticality, then ordinal.
	ready := make([]string, 0, len(items))
	for _, it := range items {
		if indeg[it.SlotID] == 0 {
			ready = append(ready, it.SlotID)
		}
	}

	less := func(a, b string) bool {
		if pinned[a] != pinned[b] {
			return pinned[a]
		}
		ca, cb := criticality(items[unresolved[a]]), criticality(items[unresolved[b]])
		if ca != cb {
			return ca > cb
		}
		return defs[a].Ordinal < defs[b].Ordinal
	}

	ordered := make([]model.QueueSlotItem, 0, len(items))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]

		it := items[unresolved[next]]
		it.Pinned = pinned[next]
		it.QueueRank = len(ordered)
		ordered = append(ordered, it)

		for _, dep := range dependents[next] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(ordered) != len(items) {
		var stuck []string
		for id, d := range indeg {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, eris.Errorf("coverage: dependency cycle among slots %v", stuck)
	}
	return ordered, nil
}

// criticality counts mandatory mapped obligations that are not satisfied.
func criticality(it model.QueueSlotItem) int {
	n := 0
	for _, oc := range it.MappedObligations {
		if oc.Mandatory && oc.Status != model.ObligationSatisfied {
			n++
		}
	}
	return n
}
