// Package overlap finds occupancy blocks that physically conflict and
// assigns lateral render offsets to them.
package overlap

import (
	"sort"

	"fieldcal/internal/model"
	"fieldcal/internal/timeutil"
)

// Relater answers whether two fields share physical space.
type Relater interface {
	Related(a, b *int64) bool
}

// Overlaps reports whether a and b conflict: same date, intersecting
// half-open intervals and related fields.
func Overlaps(r Relater, a, b model.Occurrence) bool {
	if !timeutil.SameDate(a.Start, b.Start) {
		return false
	}
	if !a.Start.Before(b.End) || !b.Start.Before(a.End) {
		return false
	}
	return r.Related(a.FieldID, b.FieldID)
}

// Conflicts maps every occurrence's UIID to the sorted UIIDs it conflicts
// with. Occurrences without conflicts map to an empty list.
func Conflicts(r Relater, occs []model.Occurrence) map[string][]string {
	out := make(map[string][]string, len(occs))
	for _, o := range occs {
		out[o.UIID] = []string{}
	}
	for i := range occs {
		for j := i + 1; j < len(occs); j++ {
			if occs[i].UIID == occs[j].UIID {
				continue
			}
			if Overlaps(r, occs[i], occs[j]) {
				out[occs[i].UIID] = append(out[occs[i].UIID], occs[j].UIID)
				out[occs[j].UIID] = append(out[occs[j].UIID], occs[i].UIID)
			}
		}
	}
	for _, list := range out {
		sort.Strings(list)
	}
	return out
}

// Offsets assigns each occurrence its rank, by ascending UIID, within its
// connected conflict component. Mutually conflicting occurrences never
// share an offset.
func Offsets(conflicts map[string][]string) map[string]int {
	ids := make([]string, 0, len(conflicts))
	for id := range conflicts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	uf := newUnionFind(ids)
	for id, list := range conflicts {
		for _, other := range list {
			uf.union(id, other)
		}
	}

	offsets := make(map[string]int, len(ids))
	next := make(map[string]int)
	// ids are sorted, so ranks come out in ascending order per component.
	for _, id := range ids {
		root := uf.find(id)
		offsets[id] = next[root]
		next[root]++
	}
	return offsets
}

// Annotate returns a copy of occs with Conflicts and Offset filled in.
func Annotate(r Relater, occs []model.Occurrence) []model.Occurrence {
	conflicts := Conflicts(r, occs)
	offsets := Offsets(conflicts)
	out := make([]model.Occurrence, len(occs))
	for i, o := range occs {
		o.Conflicts = conflicts[o.UIID]
		o.Offset = offsets[o.UIID]
		out[i] = o
	}
	return out
}

// ConflictsWith returns the UIIDs in others that conflict with o, skipping
// o itself.
func ConflictsWith(r Relater, o model.Occurrence, others []model.Occurrence) []string {
	var out []string
	for _, x := range others {
		if x.UIID == o.UIID {
			continue
		}
		if Overlaps(r, o, x) {
			out = append(out, x.UIID)
		}
	}
	sort.Strings(out)
	return out
}

type unionFind struct {
	parent map[string]string
}

func newUnionFind(ids []string) *unionFind {
	uf := &unionFind{parent: make(map[string]string, len(ids))}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (u *unionFind) find(id string) string {
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

func (u *unionFind) union(a, b string) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	// Smaller id becomes the root so components are keyed stably.
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
