package store

// trigramMinLen is the shortest atom the trigram index can serve.
// Shorter atoms fall back to a linear scan.
const trigramMinLen = 3

// Trigrams returns every overlapping 3-byte substring of s. The input is
// expected to be lowercase already. Duplicates are removed so posting
// updates stay idempotent per record.
func Trigrams(s string) []string {
	if len(s) < trigramMinLen {
		return nil
	}
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s)-trigramMinLen+1)
	for i := 0; i+trigramMinLen <= len(s); i++ {
		t := s[i : i+trigramMinLen]
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// trigramIndex maps trigrams to the records whose lowercase name contains
// them. It answers "which records could contain this substring"; callers
// verify candidates against the actual name.
type trigramIndex struct {
	postings map[string]*IDSet
}

func newTrigramIndex() *trigramIndex {
	return &trigramIndex{postings: make(map[string]*IDSet)}
}

// add indexes every trigram of nameLower for id.
func (t *trigramIndex) add(nameLower string, id RecordID) {
	for _, tri := range Trigrams(nameLower) {
		set, ok := t.postings[tri]
		if !ok {
			set = NewIDSet()
			t.postings[tri] = set
		}
		set.Add(id)
	}
}

// remove drops id from every trigram posting of nameLower.
func (t *trigramIndex) remove(nameLower string, id RecordID) {
	for _, tri := range Trigrams(nameLower) {
		set, ok := t.postings[tri]
		if !ok {
			continue
		}
		set.Remove(id)
		if set.IsEmpty() {
			delete(t.postings, tri)
		}
	}
}

// candidates returns ids that contain every trigram of the term, or nil
// plus false when the term is too short for the index. An empty result
// with ok=true means no record can match.
//
// Postings are intersected smallest-first so the working set shrinks as
// fast as possible.
func (t *trigramIndex) candidates(termLower string) (*IDSet, bool) {
	tris := Trigrams(termLower)
	if len(tris) == 0 {
		return nil, false
	}

	// Find the rarest posting to start from; a missing trigram means no
	// record contains the term.
	sets := make([]*IDSet, 0, len(tris))
	for _, tri := range tris {
		set, ok := t.postings[tri]
		if !ok {
			return NewIDSet(), true
		}
		sets = append(sets, set)
	}

	smallest := 0
	for i, set := range sets {
		if set.Len() < sets[smallest].Len() {
			smallest = i
		}
	}

	result := sets[smallest].Clone()
	for i, set := range sets {
		if i == smallest {
			continue
		}
		result.And(set)
		if result.IsEmpty() {
			return result, true
		}
	}
	return result, true
}

// size returns the number of distinct trigrams indexed.
func (t *trigramIndex) size() int {
	return len(t.postings)
}
