package mapper

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"shelter-engine/pkg/errors"
)

// FormatTime renders a time-of-day pair as HH:MM
func FormatTime(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}

// ParseTime accepts "HH:MM" or the numeric HHMM form (730 is 07:30) and
// rejects out-of-range hours and minutes
func ParseTime(field string, value interface{}) (hour, minute int, err error) {
	malformed := func() error {
		return errors.NewValidationErrorKind(errors.ValidationMalformedTime, field, "HH:MM or HHMM", value)
	}

	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if h, m, ok := strings.Cut(s, ":"); ok {
			if hour, err = strconv.Atoi(h); err != nil || len(h) == 0 || len(h) > 2 {
				return 0, 0, malformed()
			}
			if minute, err = strconv.Atoi(m); err != nil || len(m) != 2 {
				return 0, 0, malformed()
			}
			err = nil
			break
		}
		if len(s) == 0 || len(s) > 4 {
			return 0, 0, malformed()
		}
		n, convErr := strconv.Atoi(s)
		if convErr != nil || n < 0 {
			return 0, 0, malformed()
		}
		hour, minute = n/100, n%100
	case int:
		if v < 0 {
			return 0, 0, malformed()
		}
		hour, minute = v/100, v%100
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return 0, 0, malformed()
		}
		hour, minute = int(v)/100, int(v)%100
	default:
		return 0, 0, malformed()
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, malformed()
	}
	return hour, minute, nil
}
