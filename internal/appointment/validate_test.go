package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	v := NewTimeValidator(time.UTC)
	now := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		date       string
		start, end string
		want       error
	}{
		{"ok", "2030-01-01", "09:00", "10:00", nil},
		{"starts exactly now", "2030-01-01", "08:00", "08:30", nil},
		{"unpadded clock", "2030-01-02", "9:05", "9:45", nil},
		{"bad date", "2030/01/01", "09:00", "10:00", ErrInvalidFormat},
		{"bad start", "2030-01-01", "nine", "10:00", ErrInvalidFormat},
		{"bad end", "2030-01-01", "09:00", "25:00", ErrInvalidFormat},
		{"impossible date", "2030-02-30", "09:00", "10:00", ErrInvalidFormat},
		{"past", "2029-12-31", "09:00", "10:00", ErrPastAppointment},
		{"earlier today", "2030-01-01", "07:59", "09:00", ErrPastAppointment},
		{"empty range", "2030-01-01", "09:00", "09:00", ErrInvalidRange},
		{"reversed", "2030-01-01", "10:00", "09:00", ErrInvalidRange},
		// past wins over a reversed range
		{"past and reversed", "2029-12-31", "10:00", "09:00", ErrPastAppointment},
		// format wins over everything
		{"malformed and past", "2029-12-31", "10:00", "x", ErrInvalidFormat},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Validate(tc.date, tc.start, tc.end, now)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestValidateCanonicalises(t *testing.T) {
	v := NewTimeValidator(time.UTC)

	slot, err := v.Validate("2030-01-02", "9:05", "9:45", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "2030-01-02", slot.Date())
	assert.Equal(t, "09:05", slot.StartClock())
	assert.Equal(t, "09:45", slot.EndClock())
}

func TestValidateUsesClinicZone(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	v := NewTimeValidator(tokyo)

	// 09:00 in Tokyo is midnight UTC.
	now := time.Date(2030, 1, 1, 0, 30, 0, 0, time.UTC)

	_, err := v.Validate("2030-01-01", "09:00", "10:00", now)
	assert.ErrorIs(t, err, ErrPastAppointment)

	_, err = v.Validate("2030-01-01", "10:00", "11:00", now)
	assert.NoError(t, err)
}

func TestValidateRejectsMissingWallClock(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	v := NewTimeValidator(newYork)
	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	// clocks jump from 02:00 to 03:00 on 2030-03-10
	_, err = v.Validate("2030-03-10", "02:30", "04:00", now)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = v.Validate("2030-03-10", "01:00", "02:15", now)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	slot, err := v.Validate("2030-03-10", "01:30", "03:30", now)
	require.NoError(t, err)
	assert.Equal(t, "01:30", slot.StartClock())
	assert.Equal(t, "03:30", slot.EndClock())
	assert.Equal(t, time.Hour, slot.End.Sub(slot.Start))
}

func TestNewTimeValidatorDefaultsToLocal(t *testing.T) {
	assert.Equal(t, time.Local, NewTimeValidator(nil).Location())
}
