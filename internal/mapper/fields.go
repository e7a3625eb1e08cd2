// Package mapper translates between upstream wire records and canonical
// synced entities. Every function is pure: no I/O, no shared state.
//
// Where the API carries one concept under several field names, each target
// field lists its sources once, newest first, and the first non-empty value
// wins.
package mapper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/upstream"
)

// ErrMissingID is returned when a wire record has no usable identifier.
var ErrMissingID = errors.New("record has no id")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

const dateLayout = "2006-01-02"

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func firstID(ids ...upstream.FlexID) string {
	for _, id := range ids {
		if s := strings.TrimSpace(string(id)); s != "" && s != "0" {
			return s
		}
	}
	return ""
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// firstTime returns the first source that parses, or nil.
func firstTime(vals ...string) *time.Time {
	for _, v := range vals {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if t, err := parseTime(v); err == nil {
			return &t
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func boolPtr(b bool) *bool { return &b }

// base fills the identity fields shared by every entity.
func base(kind records.Kind, m upstream.Meta) (records.Base, error) {
	id := firstID(m.ID)
	if id == "" {
		return records.Base{}, fmt.Errorf("%s: %w", kind, ErrMissingID)
	}
	return records.Base{
		ForeignID: id,
		Deleted:   m.Deleted,
		UpdatedAt: firstTime(m.UpdatedAt, m.LastModified),
	}, nil
}

// AppointmentStatus derives a status from upstream flags in priority order:
// cancelled, missed, checked out, checked in, confirmed, scheduled.
func AppointmentStatus(cancelled, missed, checkedOut, checkedIn, confirmed bool) string {
	switch {
	case cancelled:
		return records.AppointmentCancelled
	case missed:
		return records.AppointmentMissed
	case checkedOut:
		return records.AppointmentCheckedOut
	case checkedIn:
		return records.AppointmentCheckedIn
	case confirmed:
		return records.AppointmentConfirmed
	default:
		return records.AppointmentScheduled
	}
}
