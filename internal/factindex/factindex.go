// Package factindex derives the hashed composite index entries a fact
// produces under a configured index schema, so the external storage
// layer can filter historical facts by shared attributes in
// O(index-hits) rather than scanning every stored fact.
package factindex

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/ppiankov/counters/internal/fact"
)

// Rule describes one index family a fact may contribute an entry to.
type Rule struct {
	FieldName     string // payload field whose value feeds the hash
	DateName      string // payload field holding the window-anchor timestamp
	IndexTypeName string // symbolic name of the index family
	IndexType     string // caller-defined index kind (e.g. "exact", "range")
	IndexValue    string // caller-defined discriminator folded into the hash
}

// Entry is one hashed composite key. Hash is stable across processes
// (and, by construction, across languages implementing the same
// two-pass FNV-1a scheme) given identical inputs.
type Entry struct {
	Hash          [16]byte
	FactID        string
	FactType      int
	AnchorTime    time.Time
	IndexTypeName string
}

// Build produces one Entry per rule in schema whose FieldName is present
// on f. Rules referencing an absent field or an unparsable anchor date
// are skipped, not errored: a fact missing an indexed attribute simply
// contributes no entry for that rule.
func Build(f *fact.Fact, schema []Rule) []Entry {
	if f == nil || f.IsZero() {
		return nil
	}

	entries := make([]Entry, 0, len(schema))
	for _, rule := range schema {
		fieldVal, found := f.Get(rule.FieldName)
		if !found {
			continue
		}
		anchor, ok := anchorTime(f, rule.DateName)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			Hash:          hashKey(rule.IndexType, rule.IndexValue, rule.FieldName, fieldVal),
			FactID:        f.ID,
			FactType:      f.Type,
			AnchorTime:    anchor,
			IndexTypeName: rule.IndexTypeName,
		})
	}
	return entries
}

func anchorTime(f *fact.Fact, dateName string) (time.Time, bool) {
	if dateName == "" {
		return f.CreatedAt, true
	}
	v, found := f.Get(dateName)
	if !found {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, true
	default:
		return time.Time{}, false
	}
}

// hashKey derives a deterministic 128-bit digest from
// (indexType, indexValue, fieldName, fieldValue) using two independent
// FNV-1a 64-bit passes over the same canonical byte string, seeded
// differently so the halves are not trivially related. FNV-1a is
// chosen over a dedicated 128-bit hash because it is available from the
// standard library with no portability question across the processes
// that must agree on it, and no pack dependency ships one.
func hashKey(indexType, indexValue, fieldName string, fieldValue any) [16]byte {
	canonical := fmt.Sprintf("%s|%s|%s|%v", indexType, indexValue, fieldName, fieldValue)

	var out [16]byte
	lo := fnv.New64a()
	lo.Write([]byte(canonical))
	copy(out[0:8], lo.Sum(nil))

	hi := fnv.New64a()
	hi.Write([]byte{0x01}) // domain-separate the second pass from the first
	hi.Write([]byte(canonical))
	copy(out[8:16], hi.Sum(nil))

	return out
}
