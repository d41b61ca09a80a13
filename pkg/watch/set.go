package watch

import "sort"

// Set is the watch-set: the classes being tracked, grouped by course so a
// poll cycle can fetch seat data in one batched call. A Set is fixed for
// the duration of a cycle; the poll loop swaps in a new Set between
// cycles when the watch list changes.
type Set struct {
	byCourse map[string][]string     // courseID -> ordered classIDs
	targets  map[string]WatchTarget  // classID -> target
}

// NewSet returns an empty watch-set.
func NewSet() *Set {
	return &Set{
		byCourse: make(map[string][]string),
		targets:  make(map[string]WatchTarget),
	}
}

// Add merges targets into the set. Duplicate (courseID, classID) pairs are
// ignored; the first-seen display labels win.
func (s *Set) Add(targets ...WatchTarget) {
	for _, t := range targets {
		if _, ok := s.targets[t.ClassID]; ok {
			continue
		}
		s.targets[t.ClassID] = t
		s.byCourse[t.CourseID] = append(s.byCourse[t.CourseID], t.ClassID)
	}
}

// CourseIDs returns the sorted union of course identifiers, the key for a
// batched seats fetch.
func (s *Set) CourseIDs() []string {
	ids := make([]string, 0, len(s.byCourse))
	for id := range s.byCourse {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ClassIDs returns every watched class id, ordered by course then catalog
// order within the course.
func (s *Set) ClassIDs() []string {
	var ids []string
	for _, courseID := range s.CourseIDs() {
		ids = append(ids, s.byCourse[courseID]...)
	}
	return ids
}

// Contains reports whether a class is watched. Classes present in a seats
// response but not in the set are ignored by the poll cycle.
func (s *Set) Contains(classID string) bool {
	_, ok := s.targets[classID]
	return ok
}

// Target returns the watch target for a class id.
func (s *Set) Target(classID string) (WatchTarget, bool) {
	t, ok := s.targets[classID]
	return t, ok
}

// Len returns the number of watched classes.
func (s *Set) Len() int {
	return len(s.targets)
}

// Courses returns the number of distinct courses in the set.
func (s *Set) Courses() int {
	return len(s.byCourse)
}
