package detect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"seatwatch/pkg/watch"
	"seatwatch/studentapp"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenCount(t *testing.T) {
	tests := []struct {
		name string
		snap watch.SeatSnapshot
		want int
	}{
		{
			name: "open with free seats",
			snap: watch.SeatSnapshot{Status: watch.StatusOpen, Capacity: 10, Enrollment: 7},
			want: 3,
		},
		{
			name: "open and full",
			snap: watch.SeatSnapshot{Status: watch.StatusOpen, Capacity: 10, Enrollment: 10},
			want: 0,
		},
		{
			name: "open and over-enrolled clamps to zero",
			snap: watch.SeatSnapshot{Status: watch.StatusOpen, Capacity: 10, Enrollment: 12},
			want: 0,
		},
		{
			name: "not open with free seats still zero",
			snap: watch.SeatSnapshot{Status: watch.StatusNotOpen, Capacity: 10, Enrollment: 3},
			want: 0,
		},
		{
			name: "zero capacity",
			snap: watch.SeatSnapshot{Status: watch.StatusOpen, Capacity: 0, Enrollment: 0},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := OpenCount(tt.snap); got != tt.want {
				t.Errorf("OpenCount(%+v) = %d, want %d", tt.snap, got, tt.want)
			}
		})
	}
}

func seatsResponse() *studentapp.SeatsResponse {
	return &studentapp.SeatsResponse{
		Course: []studentapp.SeatCourse{{
			CourseID: "002054",
			Classes: []studentapp.SeatClass{
				{
					ClassNumber: "21931",
					Status:      "Open",
					Enrollment:  json.RawMessage(`7`),
					Capacity:    json.RawMessage(`10`),
				},
				{
					ClassNumber: "21932",
					Status:      "Open",
					Enrollment:  json.RawMessage(`"4"`),
					Capacity:    json.RawMessage(`"not a number"`),
				},
				{
					ClassNumber: "21927",
					Status:      "Closed",
					Enrollment:  json.RawMessage(`"3"`),
					Capacity:    json.RawMessage(`"12"`),
				},
			},
		}},
	}
}

func TestSnapshotsSkipsMalformedClassOnly(t *testing.T) {
	snaps := Snapshots(seatsResponse(), discardLogger())

	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots (malformed class skipped), got %d", len(snaps))
	}
	for _, snap := range snaps {
		if snap.ClassID == "21932" {
			t.Error("class with non-numeric capacity should have been skipped")
		}
	}
}

func TestSnapshotsStatusCompare(t *testing.T) {
	snaps := Snapshots(seatsResponse(), discardLogger())

	byClass := make(map[string]watch.SeatSnapshot)
	for _, snap := range snaps {
		byClass[snap.ClassID] = snap
	}

	if byClass["21931"].Status != watch.StatusOpen {
		t.Errorf("class 21931 status = %q, want Open", byClass["21931"].Status)
	}
	// Anything but the literal "Open" is not open.
	if byClass["21927"].Status != watch.StatusNotOpen {
		t.Errorf("class 21927 status = %q, want NotOpen", byClass["21927"].Status)
	}
}

func TestSnapshotsCoercesNumericStrings(t *testing.T) {
	snaps := Snapshots(seatsResponse(), discardLogger())
	for _, snap := range snaps {
		if snap.ClassID == "21927" {
			if snap.Enrollment != 3 || snap.Capacity != 12 {
				t.Errorf("string coercion failed: %+v", snap)
			}
			return
		}
	}
	t.Fatal("class 21927 missing from snapshots")
}

func TestSnapshotsNilResponse(t *testing.T) {
	if snaps := Snapshots(nil, discardLogger()); snaps != nil {
		t.Errorf("expected nil snapshots for nil response, got %v", snaps)
	}
}

func TestOpeningsFiltersToWatchSet(t *testing.T) {
	set := watch.NewSet()
	set.Add(watch.WatchTarget{CourseID: "002054", ClassID: "21931"})

	snaps := []watch.SeatSnapshot{
		{CourseID: "002054", ClassID: "21931", Status: watch.StatusOpen, Capacity: 10, Enrollment: 7},
		{CourseID: "002054", ClassID: "99999", Status: watch.StatusOpen, Capacity: 10, Enrollment: 0},
	}

	openings := Openings(snaps, set)
	if len(openings) != 1 {
		t.Fatalf("expected 1 opening, got %d", len(openings))
	}
	if openings[0].ClassID != "21931" || openings[0].OpenCount != 3 {
		t.Errorf("opening = %+v, want class 21931 with 3 open", openings[0])
	}
}

func TestOpeningsIncludesZeroCounts(t *testing.T) {
	set := watch.NewSet()
	set.Add(watch.WatchTarget{CourseID: "002054", ClassID: "21931"})

	snaps := []watch.SeatSnapshot{
		{CourseID: "002054", ClassID: "21931", Status: watch.StatusNotOpen, Capacity: 10, Enrollment: 7},
	}

	openings := Openings(snaps, set)
	if len(openings) != 1 {
		t.Fatalf("expected the closed class to be reported, got %d openings", len(openings))
	}
	if openings[0].OpenCount != 0 {
		t.Errorf("closed class open count = %d, want 0", openings[0].OpenCount)
	}
}

// fakeSeatAPI returns a canned response or error.
type fakeSeatAPI struct {
	resp *studentapp.SeatsResponse
	err  error
}

func (f *fakeSeatAPI) Seats(context.Context, string, []string) (*studentapp.SeatsResponse, error) {
	return f.resp, f.err
}

func TestFetcher(t *testing.T) {
	fetcher := NewFetcher(&fakeSeatAPI{resp: seatsResponse()}, discardLogger())

	snaps, err := fetcher.Seats(context.Background(), "1252", []string{"002054"})
	if err != nil {
		t.Fatalf("Seats() unexpected error: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("expected 2 snapshots, got %d", len(snaps))
	}
}

func TestFetcherPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	fetcher := NewFetcher(&fakeSeatAPI{err: wantErr}, discardLogger())

	if _, err := fetcher.Seats(context.Background(), "1252", []string{"002054"}); !errors.Is(err, wantErr) {
		t.Errorf("Seats() error = %v, want %v", err, wantErr)
	}
}
