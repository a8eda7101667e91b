// Package snapshot provides deterministic content hashing for scope
// snapshots and the add/remove/change algebra over snapshot deltas. All
// functions are pure.
package snapshot

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"slices"

	"github.com/ashita-ai/kumo/internal/model"
)

// Hash produces a SHA-256 hex digest over the included claim and metric
// IDs. IDs are sorted and length-prefixed before hashing, so the digest is
// independent of input order and immune to delimiter collisions; changing
// any included ID changes the digest.
func Hash(claimIDs, metricIDs []string) string {
	h := sha256.New()

	writeSection := func(label string, ids []string) {
		sorted := slices.Clone(ids)
		slices.Sort(sorted)
		writeField(h, label)
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(sorted)))
		h.Write(count[:])
		for _, id := range sorted {
			writeField(h, id)
		}
	}
	writeSection("claims", claimIDs)
	writeSection("metrics", metricIDs)

	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a 4-byte big-endian length prefix followed by the
// field bytes.
func writeField(h hash.Hash, field string) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	_, _ = h.Write(length[:])
	_, _ = h.Write([]byte(field))
}

// Diff computes the change set from snapshot a to snapshot b over claim
// IDs. An ID present in both but with differing membership in the metric
// list does not count; claims drive add/remove while shared IDs carried in
// changedIDs mark revisions.
func Diff(a, b model.Snapshot, changedIDs []string) model.Change {
	inA := toSet(a.ClaimIDs)
	inB := toSet(b.ClaimIDs)

	var change model.Change
	for _, id := range b.ClaimIDs {
		if !inA[id] {
			change.Added = append(change.Added, id)
		}
	}
	for _, id := range a.ClaimIDs {
		if !inB[id] {
			change.Removed = append(change.Removed, id)
		}
	}
	for _, id := range changedIDs {
		if inA[id] && inB[id] {
			change.Changed = append(change.Changed, id)
		}
	}
	slices.Sort(change.Added)
	slices.Sort(change.Removed)
	slices.Sort(change.Changed)
	return change
}

// Compose combines consecutive deltas: Compose(delta(A,B), delta(B,C))
// equals delta(A,C) under the add/remove/change algebra.
//
//   - added then removed cancels; removed then re-added becomes changed;
//   - added then changed stays added; changed then changed stays changed;
//   - changed then removed becomes removed.
func Compose(first, second model.Change) model.Change {
	addedFirst := toSet(first.Added)
	removedFirst := toSet(first.Removed)
	changedFirst := toSet(first.Changed)
	addedSecond := toSet(second.Added)
	removedSecond := toSet(second.Removed)
	changedSecond := toSet(second.Changed)

	added := map[string]bool{}
	removed := map[string]bool{}
	changed := map[string]bool{}

	for id := range addedFirst {
		if removedSecond[id] {
			continue // added then removed: net nothing
		}
		added[id] = true // added-then-changed is still a net add
	}
	for id := range addedSecond {
		if removedFirst[id] {
			// removed then re-added: the item existed in A and exists in
			// C, possibly different — a net change.
			changed[id] = true
			continue
		}
		added[id] = true
	}
	for id := range removedFirst {
		if !addedSecond[id] {
			removed[id] = true
		}
	}
	for id := range removedSecond {
		if !addedFirst[id] {
			removed[id] = true
		}
	}
	for id := range changedFirst {
		if removedSecond[id] || removed[id] {
			continue
		}
		changed[id] = true
	}
	for id := range changedSecond {
		if addedFirst[id] || removed[id] || added[id] {
			continue
		}
		changed[id] = true
	}

	return model.Change{
		Added:   sortedKeys(added),
		Removed: sortedKeys(removed),
		Changed: sortedKeys(changed),
	}
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
