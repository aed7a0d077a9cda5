package query

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/driveseek/driveseek/internal/store"
)

const dateLayout = "2006-01-02"

// Compiler turns raw query strings into Queries. The zero-value clock is
// the wall clock; tests inject a fixed one.
type Compiler struct {
	now func() time.Time
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithClock overrides the clock used to resolve relative date filters.
func WithClock(now func() time.Time) Option {
	return func(c *Compiler) { c.now = now }
}

// NewCompiler returns a Compiler.
func NewCompiler(opts ...Option) *Compiler {
	c := &Compiler{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile parses raw with the wall clock. Compilation never fails.
func Compile(raw string) *Query {
	return NewCompiler().Compile(raw)
}

// Compile tokenizes raw on whitespace and folds each token into the
// query. Same input, same clock readings aside, always yields a
// structurally equal Query.
func (c *Compiler) Compile(raw string) *Query {
	q := &Query{Raw: raw}
	for _, token := range strings.Fields(raw) {
		c.compileToken(q, token)
	}
	return q
}

func (c *Compiler) compileToken(q *Query, token string) {
	lower := strings.ToLower(token)

	// NOT binds before filter keys, so !ext:jpg excludes the literal
	// text "ext:jpg" rather than negating a filter.
	if strings.HasPrefix(lower, "!") && len(lower) > 1 {
		q.Not = append(q.Not, newAtom(lower[1:]))
		return
	}

	if key, value, ok := strings.Cut(lower, ":"); ok {
		if c.applyFilter(q, key, value) {
			return
		}
	}

	// Unknown keys and malformed filter values fall through to here and
	// stay literal keywords, colon and all.
	if g := newGroup(lower); len(g) > 0 {
		q.Groups = append(q.Groups, g)
	}
}

// applyFilter folds a key:value token into the filter set. It reports
// false when the key is unknown or the value does not parse, in which
// case the token degrades to a keyword.
func (c *Compiler) applyFilter(q *Query, key, value string) bool {
	switch key {
	case "ext":
		exts := parseExtList(value)
		if len(exts) == 0 {
			return false
		}
		q.Filters.Exts = append(q.Filters.Exts, exts...)
		return true

	case "size":
		r, ok := parseSizeRange(value)
		if !ok {
			return false
		}
		q.Filters.Size = &r
		return true

	case "dm", "datemodified":
		r, relative, ok := c.parseDateRange(value)
		if !ok {
			return false
		}
		q.Filters.Modified = &r
		q.relative = q.relative || relative
		return true

	case "len":
		r, ok := parseLenRange(value)
		if !ok {
			return false
		}
		q.Filters.PathLen = &r
		return true

	case "attrib":
		if value == "" {
			return false
		}
		q.Filters.Attr |= parseAttrib(value)
		return true

	case "file":
		q.Filters.Kind = KindFile
		if value != "" {
			q.Groups = append(q.Groups, Group{newAtom(value)})
		}
		return true

	case "folder":
		q.Filters.Kind = KindFolder
		if value != "" {
			q.Groups = append(q.Groups, Group{newAtom(value)})
		}
		return true

	case "path":
		g := newGroup(value)
		if len(g) == 0 {
			return false
		}
		q.Filters.Path = append(q.Filters.Path, g)
		return true
	}
	return false
}

// parseExtList splits ext:jpg|png into extensions, stripping any leading
// dot so ext:.jpg and ext:jpg are the same filter.
func parseExtList(value string) []string {
	var exts []string
	for _, part := range strings.Split(value, "|") {
		part = strings.TrimPrefix(strings.TrimSpace(part), ".")
		if part != "" {
			exts = append(exts, part)
		}
	}
	return exts
}

// parseSizeRange accepts size:a..b (inclusive), size:>N, size:<N and
// size:=N, with optional b/kb/mb/gb units.
func parseSizeRange(value string) (Int64Range, bool) {
	if lo, hi, ok := strings.Cut(value, ".."); ok {
		minV, ok1 := parseSize(lo)
		maxV, ok2 := parseSize(hi)
		if !ok1 || !ok2 {
			return Int64Range{}, false
		}
		return Int64Range{Min: minV, Max: maxV}, true
	}
	if len(value) < 2 {
		return Int64Range{}, false
	}
	n, ok := parseSize(value[1:])
	if !ok {
		return Int64Range{}, false
	}
	switch value[0] {
	case '>':
		return Int64Range{Min: n + 1, Max: math.MaxInt64}, true
	case '<':
		return Int64Range{Min: 0, Max: n - 1}, true
	case '=':
		return Int64Range{Min: n, Max: n}, true
	}
	return Int64Range{}, false
}

// parseSize parses an integer with an optional unit suffix into bytes.
func parseSize(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	mult := int64(1)
	switch {
	case strings.HasSuffix(s, "kb"):
		mult = 1 << 10
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "mb"):
		mult = 1 << 20
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "gb"):
		mult = 1 << 30
		s = s[:len(s)-2]
	case strings.HasSuffix(s, "b"):
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n * mult, true
}

// parseLenRange accepts len:a..b, len:>N, len:<N, len:=N over path
// lengths in characters.
func parseLenRange(value string) (IntRange, bool) {
	if lo, hi, ok := strings.Cut(value, ".."); ok {
		minV, err1 := strconv.Atoi(strings.TrimSpace(lo))
		maxV, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil || minV < 0 {
			return IntRange{}, false
		}
		return IntRange{Min: minV, Max: maxV}, true
	}
	if len(value) < 2 {
		return IntRange{}, false
	}
	n, err := strconv.Atoi(value[1:])
	if err != nil || n < 0 {
		return IntRange{}, false
	}
	switch value[0] {
	case '>':
		return IntRange{Min: n + 1, Max: math.MaxInt}, true
	case '<':
		return IntRange{Min: 0, Max: n - 1}, true
	case '=':
		return IntRange{Min: n, Max: n}, true
	}
	return IntRange{}, false
}

// parseAttrib maps attribute letters to mask bits. Unknown letters are
// ignored, so attrib:hx equals attrib:h.
func parseAttrib(value string) store.AttrMask {
	var mask store.AttrMask
	for _, r := range value {
		switch r {
		case 'h':
			mask |= store.AttrHidden
		case 'r':
			mask |= store.AttrReadOnly
		}
	}
	return mask
}

// parseDateRange resolves dm: values. Absolute forms give stable ranges;
// today/Nd/Nh are resolved against the compiler clock and flagged
// relative. A bare date means that whole day; a range includes the end
// day.
func (c *Compiler) parseDateRange(value string) (TimeRange, bool, bool) {
	const day = 24 * time.Hour

	if lo, hi, ok := strings.Cut(value, ".."); ok {
		after, ok1 := parseDay(lo)
		before, ok2 := parseDay(hi)
		if !ok1 || !ok2 {
			return TimeRange{}, false, false
		}
		return TimeRange{After: after, Before: before.Add(day)}, false, true
	}

	switch {
	case value == "today":
		now := c.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return TimeRange{After: midnight}, true, true

	case strings.HasSuffix(value, "d"):
		n, err := strconv.Atoi(value[:len(value)-1])
		if err != nil || n < 0 {
			return TimeRange{}, false, false
		}
		return TimeRange{After: c.now().Add(-time.Duration(n) * day)}, true, true

	case strings.HasSuffix(value, "h"):
		n, err := strconv.Atoi(value[:len(value)-1])
		if err != nil || n < 0 {
			return TimeRange{}, false, false
		}
		return TimeRange{After: c.now().Add(-time.Duration(n) * time.Hour)}, true, true
	}

	if after, ok := parseDay(value); ok {
		return TimeRange{After: after, Before: after.Add(day)}, false, true
	}
	return TimeRange{}, false, false
}

// parseDay parses YYYY-MM-DD as local midnight.
func parseDay(s string) (time.Time, bool) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
