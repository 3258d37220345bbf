package dates

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		fromGregorian bool
		want          NormalizedDate
		wantOK        bool
	}{
		{"persian digits", "۱۴۰۴۰۷۲۵", false, "14040725", true},
		{"persian digits with slashes", "۱۴۰۴/۰۷/۲۵", false, "14040725", true},
		{"arabic-indic digits", "١٤٠٤-٠٧-٢٥", false, "14040725", true},
		{"ascii with dashes", "1404-01-01", false, "14040101", true},
		{"already canonical", "14040101", false, "14040101", true},
		{"longer input truncated", "1404/07/25 10:30", false, "14040725", true},
		{"too short", "1404/7/5", false, "", false},
		{"empty", "", false, "", false},
		{"whitespace", "   ", true, "", false},
		{"letters only", "tomorrow", false, "", false},
		{"gregorian date converted", "2024-03-10", true, "14021220", true},
		{"gregorian nowruz", "2024-03-20", true, "14030101", true},
		{"gregorian rfc3339 late utc rolls over", "2024-03-19T22:00:00Z", true, "14030101", true},
		{"gregorian flag with jalali input falls through", "1404/07/25", true, "14040725", true},
		{"gregorian flag with persian digits", "۲۰۲۴-۰۳-۱۰", true, "14021220", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw, tt.fromGregorian)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeIsPure(t *testing.T) {
	first, ok1 := Normalize("۱۴۰۴/۰۷/۲۵", false)
	second, ok2 := Normalize("۱۴۰۴/۰۷/۲۵", false)
	if first != second || ok1 != ok2 {
		t.Errorf("expected identical results, got %q/%v and %q/%v", first, ok1, second, ok2)
	}
}

func TestInRange(t *testing.T) {
	a := CalendarDate{Year: 1404, Month: 1, Day: 1}
	b := CalendarDate{Year: 1404, Month: 6, Day: 31}

	tests := []struct {
		name   string
		target string
		rng    []CalendarDate
		want   bool
	}{
		{"empty range passes everything", "garbage", nil, true},
		{"lower bound inclusive", "14040101", []CalendarDate{a, b}, true},
		{"upper bound inclusive", "1404/06/31", []CalendarDate{a, b}, true},
		{"inside", "۱۴۰۴/۰۳/۱۵", []CalendarDate{a, b}, true},
		{"reversed endpoints", "14040315", []CalendarDate{b, a}, true},
		{"before range", "14031230", []CalendarDate{a, b}, false},
		{"after range", "14040701", []CalendarDate{a, b}, false},
		{"single endpoint equal", "1404-01-01", []CalendarDate{a}, true},
		{"single endpoint different", "1404-01-02", []CalendarDate{a}, false},
		{"unparseable target never matches", "1404/1/1", []CalendarDate{a, b}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InRange(tt.target, tt.rng, false); got != tt.want {
				t.Errorf("InRange(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}

func TestInRangeProperty(t *testing.T) {
	endpoints := []CalendarDate{
		{1403, 1, 1}, {1403, 12, 29}, {1404, 2, 15}, {1404, 7, 25}, {1405, 1, 1},
	}
	for i := range endpoints {
		for j := i; j < len(endpoints); j++ {
			lo, hi := endpoints[i], endpoints[j]
			rng := []CalendarDate{lo, hi}
			if !InRange(string(lo.Key()), rng, false) {
				t.Errorf("expected %s in [%s,%s]", lo, lo, hi)
			}
			if !InRange(string(hi.Key()), rng, false) {
				t.Errorf("expected %s in [%s,%s]", hi, lo, hi)
			}
			for k, outside := range endpoints {
				if k >= i && k <= j {
					continue
				}
				if InRange(string(outside.Key()), rng, false) {
					t.Errorf("expected %s outside [%s,%s]", outside, lo, hi)
				}
			}
		}
	}
}

func TestCalendarRoundTrip(t *testing.T) {
	pairs := []struct {
		gregorian time.Time
		jalali    CalendarDate
	}{
		{time.Date(2024, 3, 10, 12, 0, 0, 0, DefaultLocation()), CalendarDate{1402, 12, 20}},
		{time.Date(2024, 3, 20, 12, 0, 0, 0, DefaultLocation()), CalendarDate{1403, 1, 1}},
		{time.Date(2025, 10, 17, 12, 0, 0, 0, DefaultLocation()), CalendarDate{1404, 7, 25}},
	}

	for _, p := range pairs {
		if got := ToJalali(p.gregorian); got != p.jalali {
			t.Errorf("ToJalali(%s) = %s, want %s", p.gregorian.Format("2006-01-02"), got, p.jalali)
		}
		back, err := FromJalali(p.jalali)
		if err != nil {
			t.Fatalf("FromJalali(%s) error = %v", p.jalali, err)
		}
		if back.Format("2006-01-02") != p.gregorian.Format("2006-01-02") {
			t.Errorf("FromJalali(%s) = %s, want %s", p.jalali, back.Format("2006-01-02"), p.gregorian.Format("2006-01-02"))
		}
	}

	if _, err := FromJalali(CalendarDate{1404, 13, 1}); err == nil {
		t.Error("expected invalid month to be rejected")
	}
}

func TestParseCalendarDate(t *testing.T) {
	got, err := ParseCalendarDate("۱۴۰۴/۰۷/۲۵")
	if err != nil {
		t.Fatalf("ParseCalendarDate() error = %v", err)
	}
	if got != (CalendarDate{1404, 7, 25}) {
		t.Errorf("unexpected date %s", got)
	}
	if got.Key() != "14040725" {
		t.Errorf("unexpected key %s", got.Key())
	}

	if _, err := ParseCalendarDate("1404/14/01"); err == nil {
		t.Error("expected invalid month to fail")
	}
}

func TestTranslateDigits(t *testing.T) {
	if got := TranslateDigits("۱,۵۰۰,۰۰۰ ریال"); got != "1,500,000 ریال" {
		t.Errorf("TranslateDigits() = %q", got)
	}
	if got := DigitsOnly("٠١٢ abc ３4"); got != "01234" {
		t.Errorf("DigitsOnly() = %q", got)
	}
}
