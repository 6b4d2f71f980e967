package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlapsWith(t *testing.T) {
	base := Course{DayOfWeek: Monday, StartMinute: 540, EndMinute: 630}

	tests := []struct {
		name    string
		other   Course
		overlap bool
	}{
		{"same slot", Course{DayOfWeek: Monday, StartMinute: 540, EndMinute: 630}, true},
		{"partial overlap", Course{DayOfWeek: Monday, StartMinute: 600, EndMinute: 690}, true},
		{"contained", Course{DayOfWeek: Monday, StartMinute: 560, EndMinute: 600}, true},
		{"back to back", Course{DayOfWeek: Monday, StartMinute: 630, EndMinute: 720}, false},
		{"before", Course{DayOfWeek: Monday, StartMinute: 480, EndMinute: 540}, false},
		{"different day", Course{DayOfWeek: Tuesday, StartMinute: 540, EndMinute: 630}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.overlap, base.OverlapsWith(tc.other))
			require.Equal(t, tc.overlap, tc.other.OverlapsWith(base))
		})
	}
}

func TestParseMinuteOfDay(t *testing.T) {
	minute, err := ParseMinuteOfDay("09:30")
	require.NoError(t, err)
	require.Equal(t, 570, minute)

	minute, err = ParseMinuteOfDay("00:00")
	require.NoError(t, err)
	require.Zero(t, minute)

	_, err = ParseMinuteOfDay("24:00")
	require.Error(t, err)

	_, err = ParseMinuteOfDay("lunch")
	require.Error(t, err)

	require.Equal(t, "09:05", FormatMinuteOfDay(545))
}

func TestEnrollmentPassed(t *testing.T) {
	grade := 10
	passed := Enrollment{Status: EnrollmentStatusCompleted, Grade: &grade}
	require.True(t, passed.Passed())

	failing := 9
	failed := Enrollment{Status: EnrollmentStatusCompleted, Grade: &failing}
	require.False(t, failed.Passed())

	ungraded := Enrollment{Status: EnrollmentStatusEnrolled}
	require.False(t, ungraded.Passed())
}
