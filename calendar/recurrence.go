package calendar

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/cyp0633/groupcal/storage"
)

// lookahead bounds how far NextOccurrence searches for a recurring entry.
const lookahead = 366 * 24 * time.Hour

// ValidateRule checks that s parses as the value part of an RRULE property.
func ValidateRule(s string) error {
	if _, err := rrule.StrToRRule(s); err != nil {
		return fmt.Errorf("invalid recurrence rule %q: %w", s, err)
	}
	return nil
}

// NextOccurrence returns the first occurrence of the entry on or after now,
// or the zero time when there is none within the lookahead window.
func NextOccurrence(e storage.Entry, now time.Time) (time.Time, error) {
	if e.RRule == "" {
		if !e.Start.Before(now) {
			return e.Start, nil
		}
		return time.Time{}, nil
	}

	occurrences, err := expandRule(e.Start, e.RRule, now, now.Add(lookahead))
	if err != nil {
		return time.Time{}, err
	}
	if len(occurrences) == 0 {
		return time.Time{}, nil
	}
	return occurrences[0], nil
}

// expandRule expands an RRULE within the given time range.
func expandRule(masterStart time.Time, rruleStr string, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	dtstart := masterStart.UTC().Format("20060102T150405Z")
	fullRRule := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rruleStr)

	ruleSet, err := rrule.StrToRRuleSet(fullRRule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", rruleStr, err)
	}

	// rrule-go's Between is inclusive of start, exclusive of end.
	return ruleSet.Between(rangeStart, rangeEnd, true), nil
}
