package watch

import (
	"reflect"
	"testing"
)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		want    CourseSpec
		wantErr bool
	}{
		{
			name: "course code only",
			arg:  "COS333",
			want: CourseSpec{CourseCode: "COS333"},
		},
		{
			name: "course code is upper-cased",
			arg:  "cos333",
			want: CourseSpec{CourseCode: "COS333"},
		},
		{
			name: "course code with section filter",
			arg:  "COS333:L01,P01",
			want: CourseSpec{CourseCode: "COS333", Sections: []string{"L01", "P01"}},
		},
		{
			name: "section filter tolerates spaces and empties",
			arg:  "COS333: L01,, P01 ",
			want: CourseSpec{CourseCode: "COS333", Sections: []string{"L01", "P01"}},
		},
		{
			name: "raw course and class ids",
			arg:  "002054:21931,21927",
			want: CourseSpec{CourseID: "002054", ClassIDs: []string{"21931", "21927"}},
		},
		{
			name:    "raw course id without class ids",
			arg:     "002054:",
			wantErr: true,
		},
		{
			name:    "empty spec",
			arg:     "  ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSpec(tt.arg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseSpec(%q) expected error, got %+v", tt.arg, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpec(%q) unexpected error: %v", tt.arg, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSpec(%q) = %+v, want %+v", tt.arg, got, tt.want)
			}
		})
	}
}

func TestSpecRaw(t *testing.T) {
	raw := CourseSpec{CourseID: "002054", ClassIDs: []string{"21931"}}
	if !raw.Raw() {
		t.Error("expected raw spec to report Raw()")
	}
	coded := CourseSpec{CourseCode: "COS333"}
	if coded.Raw() {
		t.Error("course-code spec should not report Raw()")
	}
}

func TestSetDeduplicates(t *testing.T) {
	set := NewSet()
	set.Add(
		WatchTarget{CourseID: "002054", ClassID: "21931", CourseCode: "COS333", Section: "L01"},
		WatchTarget{CourseID: "002054", ClassID: "21927", CourseCode: "COS333", Section: "P01"},
	)
	// Same class again, different labels: first-seen wins.
	set.Add(WatchTarget{CourseID: "002054", ClassID: "21931", Section: "XX"})

	if set.Len() != 2 {
		t.Fatalf("expected 2 targets, got %d", set.Len())
	}
	target, ok := set.Target("21931")
	if !ok || target.Section != "L01" {
		t.Errorf("expected first-seen labels to win, got %+v", target)
	}
}

func TestSetCourseIDsSorted(t *testing.T) {
	set := NewSet()
	set.Add(
		WatchTarget{CourseID: "009999", ClassID: "1"},
		WatchTarget{CourseID: "002054", ClassID: "2"},
		WatchTarget{CourseID: "005001", ClassID: "3"},
	)

	got := set.CourseIDs()
	want := []string{"002054", "005001", "009999"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CourseIDs() = %v, want %v", got, want)
	}
	if set.Courses() != 3 {
		t.Errorf("Courses() = %d, want 3", set.Courses())
	}
}

func TestSetContains(t *testing.T) {
	set := NewSet()
	set.Add(WatchTarget{CourseID: "002054", ClassID: "21931"})

	if !set.Contains("21931") {
		t.Error("expected watched class to be contained")
	}
	if set.Contains("99999") {
		t.Error("unwatched class should not be contained")
	}
}

func TestAlertStateSentinel(t *testing.T) {
	state := NewAlertState()
	if state.Notified() {
		t.Error("fresh state should not report notified")
	}
	if state.LastOpenCount != UnnotifiedCount {
		t.Errorf("fresh state count = %d, want %d", state.LastOpenCount, UnnotifiedCount)
	}

	state.LastOpenCount = 3
	if !state.Notified() {
		t.Error("state with a recorded count should report notified")
	}
}
