// Package watch contains the core domain types for the seat availability watcher.
package watch

import (
	"fmt"
	"strings"
	"time"
)

// SeatStatus is the enrollment status reported for a class.
type SeatStatus string

// The upstream API reports the literal string "Open" for enrollable
// classes; everything else is treated as not open.
const (
	StatusOpen    SeatStatus = "Open"
	StatusNotOpen SeatStatus = "NotOpen"
)

// CourseSpec describes what the user asked to monitor. Exactly one of the
// two forms is populated: a human course code with an optional section
// filter, or raw course/class identifiers that skip catalog resolution.
type CourseSpec struct {
	CourseCode string   // e.g. COS333
	Sections   []string // e.g. [L01 P01]; empty means all sections
	CourseID   string   // e.g. 002054
	ClassIDs   []string // e.g. [21931 21927]
}

// Raw reports whether the spec carries identifiers directly and needs no
// catalog lookup.
func (s CourseSpec) Raw() bool {
	return s.CourseID != "" && len(s.ClassIDs) > 0
}

func (s CourseSpec) String() string {
	if s.Raw() {
		return s.CourseID + ":" + strings.Join(s.ClassIDs, ",")
	}
	if len(s.Sections) > 0 {
		return s.CourseCode + ":" + strings.Join(s.Sections, ",")
	}
	return s.CourseCode
}

// ParseSpec parses the process-surface spec forms:
//
//	COS333            monitor every section of COS333
//	COS333:L01,P01    monitor only those sections
//	002054:21931      raw courseId:classIds, no catalog lookup
//
// An all-digit left side means raw identifiers; course codes are upper-cased.
func ParseSpec(arg string) (CourseSpec, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return CourseSpec{}, fmt.Errorf("empty course spec")
	}

	left, right, found := strings.Cut(arg, ":")
	if !found {
		return CourseSpec{CourseCode: strings.ToUpper(left)}, nil
	}

	var parts []string
	for _, p := range strings.Split(right, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}

	if isDigits(left) {
		if len(parts) == 0 {
			return CourseSpec{}, fmt.Errorf("spec %q: raw course id needs at least one class id", arg)
		}
		return CourseSpec{CourseID: left, ClassIDs: parts}, nil
	}

	return CourseSpec{CourseCode: strings.ToUpper(left), Sections: parts}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// WatchTarget is a resolved, trackable class. Identity is the
// (CourseID, ClassID) pair; CourseCode and Section are display labels and
// may be empty for raw-ID specs.
type WatchTarget struct {
	CourseID   string `json:"course_id"`
	ClassID    string `json:"class_id"`
	CourseCode string `json:"course_code"`
	Section    string `json:"section"`
}

// SeatSnapshot is one class's seat status from a single poll. Produced
// fresh every cycle and never persisted.
type SeatSnapshot struct {
	CourseID   string
	ClassID    string
	Status     SeatStatus
	Enrollment int
	Capacity   int
}

// Opening is a computed open-seat count for a watched class.
type Opening struct {
	CourseID  string
	ClassID   string
	OpenCount int
}

// UnnotifiedCount is the sentinel open count for a class that has never
// triggered a notification.
const UnnotifiedCount = -1

// AlertState is the per-class throttle record: the open count last
// notified and when. It survives across polls for as long as the class is
// watched.
type AlertState struct {
	LastOpenCount  int       `json:"last_open_count"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
}

// NewAlertState returns the never-notified state.
func NewAlertState() AlertState {
	return AlertState{LastOpenCount: UnnotifiedCount}
}

// Notified reports whether a notification has ever been recorded.
func (a AlertState) Notified() bool {
	return a.LastOpenCount != UnnotifiedCount
}
