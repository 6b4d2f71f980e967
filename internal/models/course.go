package models

import (
	"fmt"
	"time"
)

// DayOfWeek is the weekday a course meets.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

// Valid reports whether the value is a known weekday.
func (d DayOfWeek) Valid() bool {
	switch d {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return true
	}
	return false
}

// Course credit bounds.
const (
	MinCredits = 1
	MaxCredits = 4
)

// Course is a scheduled offering within a term. Meeting times are
// stored as minutes since midnight; the interval [StartMinute,
// EndMinute) is half-open for conflict detection.
type Course struct {
	ID           string    `db:"id" json:"id"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description"`
	Credits      int       `db:"credits" json:"credits"`
	DayOfWeek    DayOfWeek `db:"day_of_week" json:"day_of_week"`
	StartMinute  int       `db:"start_minute" json:"start_minute"`
	EndMinute    int       `db:"end_minute" json:"end_minute"`
	Capacity     int       `db:"capacity" json:"capacity"`
	InstructorID string    `db:"instructor_id" json:"instructor_id"`
	TermID       string    `db:"term_id" json:"term_id"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// OverlapsWith reports whether two courses meet on the same day with
// overlapping half-open time intervals.
func (c Course) OverlapsWith(other Course) bool {
	if c.DayOfWeek != other.DayOfWeek {
		return false
	}
	return c.StartMinute < other.EndMinute && other.StartMinute < c.EndMinute
}

// CourseDetail enriches Course with instructor, term and seat info.
type CourseDetail struct {
	Course
	InstructorName string   `db:"instructor_name" json:"instructor_name"`
	TermName       string   `db:"term_name" json:"term_name"`
	TermActive     bool     `db:"term_active" json:"term_active"`
	EnrolledCount  int      `db:"enrolled_count" json:"enrolled_count"`
	Prerequisites  []Course `db:"-" json:"prerequisites,omitempty"`
}

// CourseFilter provides filters for catalog listing.
type CourseFilter struct {
	TermID       string
	InstructorID string
	Search       string
	ActiveOnly   bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}

// ParseMinuteOfDay converts an "HH:MM" clock string to minutes since
// midnight.
func ParseMinuteOfDay(clock string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(clock, "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", clock)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", clock)
	}
	return h*60 + m, nil
}

// FormatMinuteOfDay renders minutes since midnight as "HH:MM".
func FormatMinuteOfDay(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
