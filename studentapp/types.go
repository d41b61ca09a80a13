package studentapp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FlexString decodes a JSON value that the upstream API serves
// inconsistently as either a string or a bare number.
type FlexString string

// UnmarshalJSON accepts "21931", 21931, or null.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// CourseListing is the /courses/courses response: a term containing a
// subject -> course -> class hierarchy.
type CourseListing struct {
	Term []CatalogTerm `json:"term"`
}

// CatalogTerm is one term's slice of the catalog.
type CatalogTerm struct {
	Subjects []CatalogSubject `json:"subjects"`
}

// CatalogSubject groups courses under a subject code (e.g. COS).
type CatalogSubject struct {
	Code    string          `json:"code"`
	Courses []CatalogCourse `json:"courses"`
}

// CatalogCourse is a single course and its enrollable classes.
type CatalogCourse struct {
	CourseID      FlexString     `json:"course_id"`
	CatalogNumber string         `json:"catalog_number"`
	Classes       []CatalogClass `json:"classes"`
}

// CatalogClass is one enrollable section of a course.
type CatalogClass struct {
	ClassNumber FlexString `json:"class_number"`
	Section     string     `json:"section"`
}

// SeatsResponse is the /courses/seats response. Enrollment and capacity
// are kept raw: the upstream serves numbers, numeric strings, and
// occasionally garbage, and per-class coercion failures must not fail the
// batch.
type SeatsResponse struct {
	Course []SeatCourse `json:"course"`
}

// SeatCourse carries the seat records for one course.
type SeatCourse struct {
	CourseID FlexString  `json:"course_id"`
	Classes  []SeatClass `json:"classes"`
}

// SeatClass is one class's raw seat record.
type SeatClass struct {
	ClassNumber FlexString      `json:"class_number"`
	Status      string          `json:"pu_calc_status"`
	Enrollment  json.RawMessage `json:"enrollment"`
	Capacity    json.RawMessage `json:"capacity"`
}
