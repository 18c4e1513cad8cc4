// Package calendar renders derived calendar views: plain-text listings for
// the wire protocol and iCalendar exports.
package calendar

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/groupcal/storage"
)

const productID = "-//groupcal//Go Calendar//EN"

// Export renders the entries as a single VCALENDAR document.
func Export(entries []storage.Entry) (string, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, e := range entries {
		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, fmt.Sprintf("entry-%d@groupcal", e.ID))
		event.Props.SetText(ical.PropSummary, e.Description)
		if e.Location != "" {
			event.Props.SetText(ical.PropLocation, e.Location)
		}
		event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now())
		event.Props.SetDateTime(ical.PropDateTimeStart, e.Start)
		event.Props.SetDateTime(ical.PropDateTimeEnd, e.End)
		if e.RRule != "" {
			event.Props.SetText(ical.PropRecurrenceRule, e.RRule)
		}
		cal.Children = append(cal.Children, event.Component)
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

// FormatEntry renders one entry as a listing line. For recurring entries the
// next occurrence on or after now is appended when there is one.
func FormatEntry(e storage.Entry, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d) %s", e.ID, e.Description)
	if e.Location != "" {
		fmt.Fprintf(&b, " @ %s", e.Location)
	}
	fmt.Fprintf(&b, ", %s - %s",
		e.Start.Format("2006-01-02 15:04"), e.End.Format("2006-01-02 15:04"))

	if e.RRule != "" {
		if next, err := NextOccurrence(e, now); err == nil && !next.IsZero() {
			fmt.Fprintf(&b, ", repeats (next %s)", next.Format("2006-01-02 15:04"))
		} else {
			b.WriteString(", repeats")
		}
	}

	if going := Attending(e); len(going) > 0 {
		fmt.Fprintf(&b, ", going: %s", strings.Join(going, " "))
	}
	return b.String()
}

// Attending lists the participants that answered going, sorted.
func Attending(e storage.Entry) []string {
	var going []string
	for username, p := range e.Participants {
		if p.Hidden {
			continue
		}
		if answer, ok := p.Attendance.Get(); ok && answer {
			going = append(going, username)
		}
	}
	sort.Strings(going)
	return going
}
