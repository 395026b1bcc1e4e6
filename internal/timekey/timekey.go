// Package timekey derives rotation keys and target names from the current
// time and a dayjs-style format template.
//
// Supported tokens:
//
//	YYYY  four-digit year        YY  two-digit year
//	MM    month, 01-12           M   month, 1-12
//	DD    day of month, 01-31    D   day of month, 1-31
//	HH    hour, 00-23            H   hour, 0-23
//	mm    minute, 00-59          m   minute, 0-59
//	ss    second, 00-59          s   second, 0-59
//	GGGG  ISO week-year          GG  two-digit ISO week-year
//	WW    ISO week, 01-53
//
// WW must be paired with GGGG or GG: the calendar year and the ISO week
// disagree around New Year, so "YYYY-WW" would map late December and early
// January to the same key.
//
// Text inside [brackets] is copied literally; any other character is literal.
// Templates are compiled once, at initialization; rendering never fails and
// never caches, so a key computed just after a period boundary reflects the
// new period.
package timekey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEmptyTemplate is returned when a template is blank.
	ErrEmptyTemplate = errors.New("timekey: empty template")
	// ErrNoDateToken is returned when a template would render the same key forever.
	ErrNoDateToken = errors.New("timekey: template contains no date token")
	// ErrUnclosedLiteral is returned for a '[' without a matching ']'.
	ErrUnclosedLiteral = errors.New("timekey: unclosed [ in template")
	// ErrWeekWithCalendarYear is returned when WW is combined with YYYY or YY.
	ErrWeekWithCalendarYear = errors.New("timekey: WW must be paired with GGGG or GG, not YYYY or YY")
)

type token int

const (
	tokLiteral token = iota
	tokYear4
	tokYear2
	tokMonth2
	tokMonth
	tokDay2
	tokDay
	tokHour2
	tokHour
	tokMinute2
	tokMinute
	tokSecond2
	tokSecond
	tokISOWeek
	tokISOYear4
	tokISOYear2
)

// tokens is ordered longest-first so "MM" wins over "M".
var tokens = []struct {
	text string
	tok  token
}{
	{"YYYY", tokYear4},
	{"GGGG", tokISOYear4},
	{"YY", tokYear2},
	{"GG", tokISOYear2},
	{"WW", tokISOWeek},
	{"MM", tokMonth2},
	{"DD", tokDay2},
	{"HH", tokHour2},
	{"mm", tokMinute2},
	{"ss", tokSecond2},
	{"M", tokMonth},
	{"D", tokDay},
	{"H", tokHour},
	{"m", tokMinute},
	{"s", tokSecond},
}

type part struct {
	tok token
	lit string
}

// Template is a compiled format template. The zero value renders "".
type Template struct {
	src   string
	parts []part
}

// Compile parses a template. It fails for blank templates, unclosed literals,
// and templates without any date token.
func Compile(src string) (Template, error) {
	if strings.TrimSpace(src) == "" {
		return Template{}, ErrEmptyTemplate
	}

	var (
		parts   []part
		lit     strings.Builder
		hasDate bool
		seen    = make(map[token]bool)
	)
	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, part{tok: tokLiteral, lit: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(src); {
		if src[i] == '[' {
			end := strings.IndexByte(src[i+1:], ']')
			if end < 0 {
				return Template{}, fmt.Errorf("%w: %q", ErrUnclosedLiteral, src)
			}
			lit.WriteString(src[i+1 : i+1+end])
			i += end + 2
			continue
		}

		matched := false
		for _, t := range tokens {
			if strings.HasPrefix(src[i:], t.text) {
				flush()
				parts = append(parts, part{tok: t.tok})
				seen[t.tok] = true
				hasDate = true
				i += len(t.text)
				matched = true
				break
			}
		}
		if !matched {
			lit.WriteByte(src[i])
			i++
		}
	}
	flush()

	if !hasDate {
		return Template{}, fmt.Errorf("%w: %q", ErrNoDateToken, src)
	}
	if seen[tokISOWeek] && (seen[tokYear4] || seen[tokYear2]) {
		return Template{}, fmt.Errorf("%w: %q", ErrWeekWithCalendarYear, src)
	}
	return Template{src: src, parts: parts}, nil
}

// MustCompile is Compile for templates known to be valid.
func MustCompile(src string) Template {
	t, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the source template.
func (t Template) String() string {
	return t.src
}

// RotationKey renders the template for now, in now's location.
func (t Template) RotationKey(now time.Time) string {
	var b strings.Builder
	for _, p := range t.parts {
		switch p.tok {
		case tokLiteral:
			b.WriteString(p.lit)
		case tokYear4:
			b.WriteString(pad(now.Year(), 4))
		case tokYear2:
			b.WriteString(pad(now.Year()%100, 2))
		case tokMonth2:
			b.WriteString(pad(int(now.Month()), 2))
		case tokMonth:
			b.WriteString(strconv.Itoa(int(now.Month())))
		case tokDay2:
			b.WriteString(pad(now.Day(), 2))
		case tokDay:
			b.WriteString(strconv.Itoa(now.Day()))
		case tokHour2:
			b.WriteString(pad(now.Hour(), 2))
		case tokHour:
			b.WriteString(strconv.Itoa(now.Hour()))
		case tokMinute2:
			b.WriteString(pad(now.Minute(), 2))
		case tokMinute:
			b.WriteString(strconv.Itoa(now.Minute()))
		case tokSecond2:
			b.WriteString(pad(now.Second(), 2))
		case tokSecond:
			b.WriteString(strconv.Itoa(now.Second()))
		case tokISOWeek:
			_, w := now.ISOWeek()
			b.WriteString(pad(w, 2))
		case tokISOYear4:
			y, _ := now.ISOWeek()
			b.WriteString(pad(y, 4))
		case tokISOYear2:
			y, _ := now.ISOWeek()
			b.WriteString(pad(y%100, 2))
		}
	}
	return b.String()
}

// TargetName renders "<prefix>_<key><suffix>", or "<key><suffix>" without a prefix.
func (t Template) TargetName(now time.Time, prefix, suffix string) string {
	key := t.RotationKey(now)
	if prefix == "" {
		return key + suffix
	}
	return prefix + "_" + key + suffix
}

// RotationKey compiles template and renders it for now.
func RotationKey(now time.Time, template string) (string, error) {
	t, err := Compile(template)
	if err != nil {
		return "", err
	}
	return t.RotationKey(now), nil
}

// TargetName compiles template and renders a prefixed target name for now.
func TargetName(now time.Time, template, prefix, suffix string) (string, error) {
	t, err := Compile(template)
	if err != nil {
		return "", err
	}
	return t.TargetName(now, prefix, suffix), nil
}

func pad(v, width int) string {
	s := strconv.Itoa(v)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
