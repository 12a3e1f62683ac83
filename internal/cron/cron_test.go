package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 2024-01-01 is a Monday.
func at(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2024, month, day, hour, minute, 0, 0, time.Local)
}

func TestMatch_EveryFifteenMinutes(t *testing.T) {
	for minute := 0; minute < 60; minute++ {
		want := minute%15 == 0
		got := Match("*/15 * * * *", at(time.January, 1, 10, minute))
		assert.Equal(t, want, got, "minute %d", minute)
	}
}

func TestMatch_WeekdayList(t *testing.T) {
	expr := "0 9 * * 1,3,5"

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday 09:00", at(time.January, 1, 9, 0), true},
		{"wednesday 09:00", at(time.January, 3, 9, 0), true},
		{"friday 09:00", at(time.January, 5, 9, 0), true},
		{"tuesday 09:00", at(time.January, 2, 9, 0), false},
		{"sunday 09:00", at(time.January, 7, 9, 0), false},
		{"monday 09:01", at(time.January, 1, 9, 1), false},
		{"monday 10:00", at(time.January, 1, 10, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(expr, tt.t))
		})
	}
}

func TestMatch_Malformed(t *testing.T) {
	now := at(time.January, 1, 0, 0)

	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"*/0 * * * *",
		"*/-5 * * * *",
		"*/x * * * *",
		"a b c d e",
	} {
		t.Run(expr, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, Match(expr, now))
			})
		})
	}
}

func TestMatch_DayOfMonthAndDayOfWeekAreBothRequired(t *testing.T) {
	// Standard cron would fire on the 1st OR on any Friday; here both must hold.
	expr := "0 0 1 * 5"

	assert.False(t, Match(expr, at(time.January, 1, 0, 0)), "1st but Monday")
	assert.False(t, Match(expr, at(time.January, 5, 0, 0)), "Friday but 5th")
	assert.True(t, Match(expr, at(time.March, 1, 0, 0)), "Friday the 1st")
}

func TestMatch_RangesAreNotSupported(t *testing.T) {
	assert.False(t, Match("0 9 * * 1-5", at(time.January, 2, 9, 0)))
}

func TestMatch_MonthIsOneIndexed(t *testing.T) {
	assert.True(t, Match("* * * 1 *", at(time.January, 10, 0, 0)))
	assert.False(t, Match("* * * 0 *", at(time.January, 10, 0, 0)))
	assert.True(t, Match("* * * 12 *", at(time.December, 10, 0, 0)))
}

func TestMatch_ExtraWhitespace(t *testing.T) {
	assert.True(t, Match("  0   9 * *  1 ", at(time.January, 1, 9, 0)))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("*/15 * * * *"))
	assert.NoError(t, Validate("0 9 * * 1,3,5"))

	assert.Error(t, Validate("* * * *"))
	assert.Error(t, Validate("*/0 * * * *"))
	assert.Error(t, Validate("0 9 * * 1-5"))
}
