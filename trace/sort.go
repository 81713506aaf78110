package trace

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// OrderingError is a causal-dependency violation of a trace which is not
// explained by a declared pre-existing space. It identifies the offending
// Record and, when one exists, the earlier Record it conflicts with.
type OrderingError struct {
	Record Record
	Prior  *Record
	Reason string
}

func (e *OrderingError) Error() string {
	if e.Prior != nil {
		return fmt.Sprintf("ordering violation: record %d (%s %s) conflicts with record %d (%s %s): %s",
			e.Record.SeqNo, e.Record.Op, e.Record.Path,
			e.Prior.SeqNo, e.Prior.Op, e.Prior.Path, e.Reason)
	}
	return fmt.Sprintf("ordering violation: record %d (%s %s): %s",
		e.Record.SeqNo, e.Record.Op, e.Record.Path, e.Reason)
}

// Sort returns a copy of |recs| in canonical order: a stable sort keyed
// primarily on Timestamp, with SeqNo breaking ties. SeqNo uniqueness makes
// the canonical order total, and therefore deterministic and idempotent.
func Sort(recs []Record) []Record {
	var sorted = append([]Record(nil), recs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return sorted[i].SeqNo < sorted[j].SeqNo
	})
	return sorted
}

// checkSequencing verifies SeqNo uniqueness and that each Actor's records
// appear in increasing SeqNo order. It's applied both to trace input order
// (a recorder which interleaves an actor's own records out of order is a
// recorder bug) and again after sorting (canonical order must never invert
// an actor's relative order).
func checkSequencing(recs []Record) error {
	var seen = make(map[int64]*Record, len(recs))
	var last = make(map[Actor]*Record)

	for i := range recs {
		var r = &recs[i]
		if prior, ok := seen[r.SeqNo]; ok {
			return &OrderingError{Record: *r, Prior: prior, Reason: "duplicated SeqNo"}
		}
		seen[r.SeqNo] = r

		if prior, ok := last[r.Actor]; ok && prior.SeqNo >= r.SeqNo {
			return &OrderingError{Record: *r, Prior: prior,
				Reason: fmt.Sprintf("actor %d records are out of order", r.Actor)}
		}
		last[r.Actor] = r
	}
	return nil
}

// VerifyOrder walks the canonically-ordered |recs| and confirms causal
// precedence: every record which references a path through a non-creating
// operation must be preceded by the record which created that path, unless
// the path's top-level component is a declared pre-existing space, or the
// operation itself was recorded as failed. Violations are returned as
// *OrderingError rather than repaired, since silently reordering could mask
// a recorder bug.
func VerifyOrder(recs []Record, spaces []string) error {
	var declared = make(map[string]struct{}, len(spaces))
	for _, s := range spaces {
		declared[s] = struct{}{}
	}
	var inSpace = func(p string) bool {
		var _, ok = declared[SpaceOf(p)]
		return ok
	}

	// Paths known to exist at each point of the walk, mapped to the record
	// which established them.
	var known = make(map[string]*Record)

	var exists = func(p string) bool {
		if _, ok := known[p]; ok {
			return true
		}
		return inSpace(p)
	}
	var parentExists = func(p string) bool {
		var dir = p[:strings.LastIndexByte(p, '/')]
		return dir == "" || exists(dir)
	}

	for i := range recs {
		var r = &recs[i]
		if r.Result.Failed() {
			// The recorded operation itself failed, and asserts nothing
			// about existence of its path.
			continue
		}

		switch {
		case r.Op.IsCreation():
			if !parentExists(r.Path) {
				return &OrderingError{Record: *r,
					Reason: fmt.Sprintf("parent directory of %s was never created and space %q is not declared pre-existing",
						r.Path, r.Space())}
			}
			known[r.Path] = r

		case r.Op == OpRename:
			if !exists(r.Path) {
				return &OrderingError{Record: *r,
					Reason: fmt.Sprintf("%s was never created and space %q is not declared pre-existing",
						r.Path, r.Space())}
			} else if !parentExists(r.NewPath) {
				return &OrderingError{Record: *r,
					Reason: fmt.Sprintf("parent directory of rename target %s was never created and space %q is not declared pre-existing",
						r.NewPath, SpaceOf(r.NewPath))}
			}
			// Rename carries the path, and any paths beneath it, to the target.
			var moved []string
			for p := range known {
				if p == r.Path || strings.HasPrefix(p, r.Path+"/") {
					moved = append(moved, p)
				}
			}
			for _, p := range moved {
				delete(known, p)
				known[r.NewPath+p[len(r.Path):]] = r
			}
			if len(moved) == 0 {
				known[r.NewPath] = r // Source pre-existed within a space.
			}

		case r.Op == OpUnlink, r.Op == OpRmdir:
			if !exists(r.Path) {
				return &OrderingError{Record: *r,
					Reason: fmt.Sprintf("%s was never created and space %q is not declared pre-existing",
						r.Path, r.Space())}
			}
			delete(known, r.Path)

		default:
			if !exists(r.Path) {
				return &OrderingError{Record: *r,
					Reason: fmt.Sprintf("%s was never created and space %q is not declared pre-existing",
						r.Path, r.Space())}
			}
		}
	}
	return nil
}

// SortFile rewrites the trace file at |path| into canonical order, in place
// and atomically. It fails with *OrderingError, before any rewrite, if the
// canonical order would violate causal precedence or invert the relative
// order of an actor's own records. Sorting an already-sorted trace writes
// byte-identical output.
func SortFile(path string, spaces []string) error {
	var recs, err = ParseFile(path)
	if err != nil {
		return err
	}
	if err = checkSequencing(recs); err != nil {
		return err
	}

	var sorted = Sort(recs)

	if err = checkSequencing(sorted); err != nil {
		return err
	} else if err = VerifyOrder(sorted, spaces); err != nil {
		return err
	}

	if err = WriteFile(path, sorted); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"trace":   path,
		"records": len(sorted),
	}).Info("sorted trace")
	return nil
}
