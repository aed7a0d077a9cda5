package store

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// IDSet is a set of record ids backed by a roaring bitmap. Posting sets
// for trigrams and extensions share this representation so candidate
// intersection stays cheap.
type IDSet struct {
	bm *roaring.Bitmap
}

// NewIDSet returns an empty set.
func NewIDSet() *IDSet {
	return &IDSet{bm: roaring.New()}
}

// Add inserts id into the set.
func (s *IDSet) Add(id RecordID) {
	s.bm.Add(id)
}

// Remove deletes id from the set.
func (s *IDSet) Remove(id RecordID) {
	s.bm.Remove(id)
}

// Contains reports whether id is in the set.
func (s *IDSet) Contains(id RecordID) bool {
	return s.bm.Contains(id)
}

// Len returns the number of ids in the set.
func (s *IDSet) Len() int {
	return int(s.bm.GetCardinality())
}

// IsEmpty reports whether the set has no ids.
func (s *IDSet) IsEmpty() bool {
	return s.bm.IsEmpty()
}

// Clone returns an independent copy.
func (s *IDSet) Clone() *IDSet {
	return &IDSet{bm: s.bm.Clone()}
}

// And intersects the set with other in place.
func (s *IDSet) And(other *IDSet) {
	s.bm.And(other.bm)
}

// Or unions other into the set in place.
func (s *IDSet) Or(other *IDSet) {
	s.bm.Or(other.bm)
}

// AndNot removes other's ids from the set in place.
func (s *IDSet) AndNot(other *IDSet) {
	s.bm.AndNot(other.bm)
}

// Iterate calls fn for each id in ascending order until fn returns false.
func (s *IDSet) Iterate(fn func(id RecordID) bool) {
	it := s.bm.Iterator()
	for it.HasNext() {
		if !fn(it.Next()) {
			return
		}
	}
}

// Slice returns all ids in ascending order.
func (s *IDSet) Slice() []RecordID {
	return s.bm.ToArray()
}
