// Package resolve maps user-facing course specs and the term catalog onto
// the stable identifiers the seats API is keyed by. Resolution is a
// startup-time, fail-fast concern: no retries, and any failure is fatal
// to the process before the poll loop begins.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"seatwatch/pkg/watch"
	"seatwatch/studentapp"
)

// ResolutionError indicates a term, course, or class lookup failure.
type ResolutionError struct {
	Subject string // what was being resolved, for diagnostics
	Reason  string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s", e.Subject, e.Reason)
}

// IsResolutionError checks if an error is a resolution failure.
func IsResolutionError(err error) bool {
	var resErr *ResolutionError
	return errors.As(err, &resErr)
}

// TermCodeAliases is the ordered priority list of field names that carry
// a term code in the term listing. Checked against the newest record
// first.
var TermCodeAliases = []string{"code", "term_code", "strm"}

// LooksLikeTermCode reports whether a field value is a plausible term
// code: a non-empty string composed entirely of digits.
func LooksLikeTermCode(v any) bool {
	s, ok := v.(string)
	if !ok || s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Term determines the current term code from a term listing, assumed
// ordered oldest to newest. The newest record is checked against
// TermCodeAliases in priority order; failing that, all records are
// scanned newest-first for any field that looks like a term code.
func Term(listing []map[string]any) (string, error) {
	if len(listing) == 0 {
		return "", &ResolutionError{Subject: "term", Reason: "term listing is empty"}
	}

	latest := listing[len(listing)-1]
	for _, alias := range TermCodeAliases {
		if v, ok := latest[alias]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, nil
			}
		}
	}

	for i := len(listing) - 1; i >= 0; i-- {
		for _, v := range listing[i] {
			if LooksLikeTermCode(v) {
				return v.(string), nil
			}
		}
	}

	return "", &ResolutionError{Subject: "term", Reason: "no code-bearing field found in term listing"}
}

// Catalog is the slice of the student-app API the course resolver needs.
type Catalog interface {
	Terms(ctx context.Context) ([]map[string]any, error)
	Courses(ctx context.Context, term, subject, catnum string) (*studentapp.CourseListing, error)
}

// Resolver resolves course specs against the catalog.
type Resolver struct {
	catalog Catalog
	logger  *slog.Logger
}

// New creates a new resolver.
func New(catalog Catalog, logger *slog.Logger) *Resolver {
	return &Resolver{catalog: catalog, logger: logger}
}

// Term fetches the term listing and determines the current term code.
func (r *Resolver) Term(ctx context.Context) (string, error) {
	listing, err := r.catalog.Terms(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch term listing: %w", err)
	}
	return Term(listing)
}

// Course resolves one spec to its watch targets. Raw-ID specs pass
// through without any catalog query; course-code specs are looked up by
// subject prefix and catalog number, and the optional section filter is
// applied in catalog order.
func (r *Resolver) Course(ctx context.Context, term string, spec watch.CourseSpec) ([]watch.WatchTarget, error) {
	if spec.Raw() {
		targets := make([]watch.WatchTarget, 0, len(spec.ClassIDs))
		for _, classID := range spec.ClassIDs {
			targets = append(targets, watch.WatchTarget{
				CourseID: spec.CourseID,
				ClassID:  classID,
			})
		}
		return targets, nil
	}

	if spec.CourseCode == "" {
		return nil, &ResolutionError{Subject: spec.String(), Reason: "spec needs a course code or raw identifiers"}
	}
	if len(spec.CourseCode) <= 3 {
		return nil, &ResolutionError{Subject: spec.CourseCode, Reason: "course code needs a 3-letter subject and a catalog number"}
	}

	subject := spec.CourseCode[:3]
	catnum := spec.CourseCode[3:]

	listing, err := r.catalog.Courses(ctx, term, subject, catnum)
	if err != nil {
		return nil, fmt.Errorf("query catalog for %s: %w", spec.CourseCode, err)
	}
	if len(listing.Term) == 0 {
		return nil, &ResolutionError{Subject: spec.CourseCode, Reason: "catalog returned no data"}
	}

	wantSections := make(map[string]bool, len(spec.Sections))
	for _, s := range spec.Sections {
		wantSections[s] = true
	}

	for _, subj := range listing.Term[0].Subjects {
		for _, course := range subj.Courses {
			display := subj.Code + course.CatalogNumber
			if !strings.EqualFold(display, spec.CourseCode) {
				continue
			}

			courseID := string(course.CourseID)
			var targets []watch.WatchTarget
			for _, class := range course.Classes {
				if len(wantSections) > 0 && !wantSections[class.Section] {
					continue
				}
				targets = append(targets, watch.WatchTarget{
					CourseID:   courseID,
					ClassID:    string(class.ClassNumber),
					CourseCode: spec.CourseCode,
					Section:    class.Section,
				})
			}

			if courseID == "" || len(targets) == 0 {
				return nil, &ResolutionError{Subject: spec.String(), Reason: "course matched but no classes qualify"}
			}

			r.logger.Info("Resolved course",
				"course_code", spec.CourseCode,
				"course_id", courseID,
				"classes", len(targets))
			return targets, nil
		}
	}

	return nil, &ResolutionError{Subject: spec.CourseCode, Reason: "no matching course in catalog"}
}

// WatchSet resolves every spec and merges the targets into one watch-set.
func (r *Resolver) WatchSet(ctx context.Context, term string, specs []watch.CourseSpec) (*watch.Set, error) {
	set := watch.NewSet()
	for _, spec := range specs {
		targets, err := r.Course(ctx, term, spec)
		if err != nil {
			return nil, err
		}
		set.Add(targets...)
	}
	return set, nil
}
