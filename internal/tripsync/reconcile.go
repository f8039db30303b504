package tripsync

import (
	"strings"
)

// Reconcile collapses records sharing a natural key (case-insensitive name +
// category) into a single survivor per key. Within a colliding group the
// record carrying a non-empty group assignment wins; if several or none
// carry one, the most recently modified of the qualifying set wins; ties go
// to the first-encountered record. Output preserves first-encountered order
// and never aliases the input slice.
func Reconcile(records []Record) []Record {
	if len(records) <= 1 {
		return append([]Record(nil), records...)
	}
	order := make([]string, 0, len(records))
	groups := make(map[string][]Record, len(records))
	for _, rec := range records {
		key := naturalKey(rec)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], rec)
	}
	out := make([]Record, 0, len(order))
	for _, key := range order {
		out = append(out, pickSurvivor(groups[key]))
	}
	return out
}

func naturalKey(rec Record) string {
	name := strings.ToLower(strings.TrimSpace(rec.Name))
	category := strings.ToLower(strings.TrimSpace(rec.Category))
	return name + "\x00" + category
}

func pickSurvivor(candidates []Record) Record {
	if len(candidates) == 1 {
		return candidates[0]
	}
	assigned := make([]Record, 0, len(candidates))
	for _, rec := range candidates {
		if strings.TrimSpace(rec.AssignedGroupID) != "" {
			assigned = append(assigned, rec)
		}
	}
	if len(assigned) == 1 {
		return assigned[0]
	}
	pool := candidates
	if len(assigned) > 1 {
		pool = assigned
	}
	best := pool[0]
	for _, rec := range pool[1:] {
		if rec.UpdatedAt.After(best.UpdatedAt) {
			best = rec
		}
	}
	return best
}
