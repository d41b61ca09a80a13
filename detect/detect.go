// Package detect turns raw seat-status payloads into open-seat counts.
// The computation is pure; the only stateful concern is tolerating
// malformed per-class data, which drops the single class rather than the
// batch.
package detect

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"seatwatch/pkg/watch"
	"seatwatch/studentapp"
)

// coerceInt parses an enrollment or capacity value that may arrive as a
// JSON number or a numeric string.
func coerceInt(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" || s == "null" {
		return 0, strconv.ErrSyntax
	}
	return strconv.Atoi(s)
}

// Snapshots extracts per-class seat snapshots from a seats response.
// Classes whose enrollment or capacity cannot be coerced to an integer
// are skipped individually; the rest of the batch survives.
func Snapshots(resp *studentapp.SeatsResponse, logger *slog.Logger) []watch.SeatSnapshot {
	if resp == nil {
		return nil
	}

	var snaps []watch.SeatSnapshot
	for _, course := range resp.Course {
		courseID := string(course.CourseID)
		if courseID == "" {
			courseID = "?"
		}
		for _, class := range course.Classes {
			classID := string(class.ClassNumber)
			if classID == "" {
				continue
			}

			enrollment, err := coerceInt(class.Enrollment)
			if err != nil {
				logger.Debug("Skipping class with malformed enrollment",
					"class_id", classID, "course_id", courseID, "raw", string(class.Enrollment))
				continue
			}
			capacity, err := coerceInt(class.Capacity)
			if err != nil {
				logger.Debug("Skipping class with malformed capacity",
					"class_id", classID, "course_id", courseID, "raw", string(class.Capacity))
				continue
			}

			status := watch.StatusNotOpen
			if class.Status == string(watch.StatusOpen) {
				status = watch.StatusOpen
			}

			snaps = append(snaps, watch.SeatSnapshot{
				CourseID:   courseID,
				ClassID:    classID,
				Status:     status,
				Enrollment: enrollment,
				Capacity:   capacity,
			})
		}
	}
	return snaps
}

// OpenCount computes the open-seat count for a snapshot:
// max(capacity-enrollment, 0) while the class is Open, else 0 regardless
// of the raw counts.
func OpenCount(snap watch.SeatSnapshot) int {
	if snap.Status != watch.StatusOpen {
		return 0
	}
	if n := snap.Capacity - snap.Enrollment; n > 0 {
		return n
	}
	return 0
}

// Openings maps snapshots onto openings for the watched classes only.
// Zero counts are included: the throttle needs to observe closures.
func Openings(snaps []watch.SeatSnapshot, set *watch.Set) []watch.Opening {
	var out []watch.Opening
	for _, snap := range snaps {
		if !set.Contains(snap.ClassID) {
			continue
		}
		out = append(out, watch.Opening{
			CourseID:  snap.CourseID,
			ClassID:   snap.ClassID,
			OpenCount: OpenCount(snap),
		})
	}
	return out
}

// Fetcher adapts the studentapp client into the snapshot source the poll
// loop consumes.
type Fetcher struct {
	api    SeatAPI
	logger *slog.Logger
}

// SeatAPI is the slice of the student-app client the fetcher needs.
type SeatAPI interface {
	Seats(ctx context.Context, term string, courseIDs []string) (*studentapp.SeatsResponse, error)
}

// NewFetcher creates a snapshot fetcher over the seats API.
func NewFetcher(api SeatAPI, logger *slog.Logger) *Fetcher {
	return &Fetcher{api: api, logger: logger}
}

// Seats fetches one batched seats payload and returns the per-class
// snapshots that survived decoding.
func (f *Fetcher) Seats(ctx context.Context, term string, courseIDs []string) ([]watch.SeatSnapshot, error) {
	resp, err := f.api.Seats(ctx, term, courseIDs)
	if err != nil {
		return nil, err
	}
	return Snapshots(resp, f.logger), nil
}
