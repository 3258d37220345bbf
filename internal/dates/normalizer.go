// Package dates makes instrument due dates comparable.
//
// Dates reach the system in several shapes: local (Jalali) calendar strings
// typed by operators with Persian or Arabic-Indic digits and arbitrary
// separators, registry responses in the same calendar, and Gregorian
// timestamps from other systems. Every shape is reduced to a NormalizedDate,
// an 8 digit YYYYMMDD key in the Jalali calendar. Because the key is fixed
// width and zero padded, lexicographic order equals chronological order and
// range checks need no calendar arithmetic.
//
// Example usage:
//
//	key, ok := dates.Normalize("۱۴۰۴/۰۷/۲۵", false)   // "14040725", true
//	key, ok = dates.Normalize("2024-03-10", true)      // "14021220", true
//	dates.InRange("1404/07/25", []dates.CalendarDate{{1404, 7, 1}, {1404, 7, 30}}, false)
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	ptime "github.com/yaa110/go-persian-calendar"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// NormalizedDate is a YYYYMMDD key in the local calendar
type NormalizedDate string

// CanonicalLength is the width of a well-formed NormalizedDate
const CanonicalLength = 8

// CalendarDate is a date already expressed in the local calendar, such as a
// range endpoint picked by an operator.
type CalendarDate struct {
	Year  int `json:"year" yaml:"year"`
	Month int `json:"month" yaml:"month"`
	Day   int `json:"day" yaml:"day"`
}

// Key returns the endpoint as a NormalizedDate. Only month and day are padded.
func (d CalendarDate) Key() NormalizedDate {
	return NormalizedDate(fmt.Sprintf("%d%02d%02d", d.Year, d.Month, d.Day))
}

// String formats the date the way operators write it
func (d CalendarDate) String() string {
	return fmt.Sprintf("%04d/%02d/%02d", d.Year, d.Month, d.Day)
}

// IsValid performs a shallow bounds check on month and day
func (d CalendarDate) IsValid() bool {
	if d.Year <= 0 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	if d.Month <= 6 {
		return d.Day <= 31
	}
	return d.Day <= 30
}

// instantLayouts are tried in order when a raw value may be a Gregorian instant
var instantLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// minGregorianYear separates Gregorian instants from local-calendar dates
// that happen to fit a Gregorian layout.
const minGregorianYear = 1700

// DefaultLocation is the civil time zone used for calendar conversion
func DefaultLocation() *time.Location {
	return time.FixedZone("IRST", 3*60*60+30*60)
}

// Normalizer converts raw date strings into NormalizedDate keys
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a normalizer converting instants in loc
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = DefaultLocation()
	}
	return &Normalizer{loc: loc}
}

var defaultNormalizer = NewNormalizer(nil)

// SetDefaultLocation replaces the location used by the package-level helpers
func SetDefaultLocation(loc *time.Location) {
	defaultNormalizer = NewNormalizer(loc)
}

// Location returns the time zone used by the package-level helpers
func Location() *time.Location {
	return defaultNormalizer.loc
}

// Location returns the normalizer's civil time zone
func (n *Normalizer) Location() *time.Location {
	return n.loc
}

// Normalize reduces raw to a YYYYMMDD key. When fromGregorian is set, raw is
// first tried as a Gregorian instant and converted to the local calendar; if
// that fails the digits of raw are used as they are.
func (n *Normalizer) Normalize(raw string, fromGregorian bool) (NormalizedDate, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	if fromGregorian {
		if t, ok := n.parseInstant(raw); ok {
			return n.ToJalali(t).Key(), true
		}
	}

	digits := DigitsOnly(raw)
	switch {
	case len(digits) == CanonicalLength:
		return NormalizedDate(digits), true
	case len(digits) > CanonicalLength:
		// Longer inputs (time suffixes, stray digits) keep their leading date part.
		return NormalizedDate(digits[:CanonicalLength]), true
	default:
		return "", false
	}
}

// InRange reports whether target falls within rng. An empty range matches
// everything; a single endpoint requires equality; two endpoints form an
// inclusive range in either order. A target that cannot be normalized never
// matches a non-empty range.
func (n *Normalizer) InRange(target string, rng []CalendarDate, fromGregorian bool) bool {
	if len(rng) == 0 {
		return true
	}

	key, ok := n.Normalize(target, fromGregorian)
	if !ok {
		return false
	}

	start := rng[0].Key()
	if len(rng) == 1 {
		return key == start
	}

	end := rng[1].Key()
	if end < start {
		start, end = end, start
	}
	return start <= key && key <= end
}

// ToJalali converts an instant to its local calendar date in the normalizer's zone
func (n *Normalizer) ToJalali(t time.Time) CalendarDate {
	pt := ptime.New(t.In(n.loc))
	return CalendarDate{Year: pt.Year(), Month: int(pt.Month()), Day: pt.Day()}
}

// FromJalali converts a local calendar date to noon of the same civil day
func (n *Normalizer) FromJalali(d CalendarDate) (time.Time, error) {
	if !d.IsValid() {
		return time.Time{}, fmt.Errorf("invalid calendar date %s", d)
	}
	return ptime.Date(d.Year, ptime.Month(d.Month), d.Day, 12, 0, 0, 0, n.loc).Time(), nil
}

func (n *Normalizer) parseInstant(raw string) (time.Time, bool) {
	value := TranslateDigits(raw)
	for _, layout := range instantLayouts {
		t, err := time.ParseInLocation(layout, value, n.loc)
		if err != nil {
			continue
		}
		// A local-calendar year such as 1404 also parses; it is not an instant.
		if t.Year() < minGregorianYear {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}

// TranslateDigits replaces Persian, Arabic-Indic and fullwidth digits with ASCII digits
func TranslateDigits(s string) string {
	out, _, err := transform.String(runes.Map(asciiDigit), s)
	if err != nil {
		return s
	}
	return out
}

// DigitsOnly translates native digits and drops every other character
func DigitsOnly(s string) string {
	translated := TranslateDigits(s)
	var b strings.Builder
	b.Grow(len(translated))
	for _, r := range translated {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func asciiDigit(r rune) rune {
	if r < 0x80 || !unicode.IsDigit(r) {
		return r
	}
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r >= '０' && r <= '９':
		return '0' + (r - '０')
	}
	return r
}

// ParseCalendarDate reads an operator-typed local date into its parts
func ParseCalendarDate(raw string) (CalendarDate, error) {
	key, ok := defaultNormalizer.Normalize(raw, false)
	if !ok {
		return CalendarDate{}, fmt.Errorf("invalid local date %q", raw)
	}
	s := string(key)
	year, _ := strconv.Atoi(s[:4])
	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	d := CalendarDate{Year: year, Month: month, Day: day}
	if !d.IsValid() {
		return CalendarDate{}, fmt.Errorf("invalid local date %q", raw)
	}
	return d, nil
}

// Normalize uses the default normalizer
func Normalize(raw string, fromGregorian bool) (NormalizedDate, bool) {
	return defaultNormalizer.Normalize(raw, fromGregorian)
}

// InRange uses the default normalizer
func InRange(target string, rng []CalendarDate, fromGregorian bool) bool {
	return defaultNormalizer.InRange(target, rng, fromGregorian)
}

// ToJalali uses the default normalizer
func ToJalali(t time.Time) CalendarDate {
	return defaultNormalizer.ToJalali(t)
}

// FromJalali uses the default normalizer
func FromJalali(d CalendarDate) (time.Time, error) {
	return defaultNormalizer.FromJalali(d)
}
