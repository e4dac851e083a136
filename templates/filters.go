package templates

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

type filterFunc func(value string, arg *literal) string

type filterSpec struct {
	fn      filterFunc
	argKind int
}

const (
	argNone = iota
	argAny
	argNumber
)

var filters = map[string]filterSpec{
	"default":    {fn: defaultFilter, argKind: argAny},
	"truncate":   {fn: truncateFilter, argKind: argNumber},
	"upper":      {fn: func(v string, _ *literal) string { return strings.ToUpper(v) }},
	"lower":      {fn: func(v string, _ *literal) string { return strings.ToLower(v) }},
	"capitalize": {fn: capitalizeFilter},
	"title":      {fn: titleFilter},
	"trim":       {fn: func(v string, _ *literal) string { return strings.TrimSpace(v) }},
}

const ellipsis = "…"

// maxCount bounds numeric filter arguments and loop limits.
const maxCount = 1 << 20

func checkFilter(call *filterCall, line int) error {
	spec, ok := filters[call.name]
	if !ok {
		return parseError(line, "unknown filter %q", call.name)
	}

	switch spec.argKind {
	case argNone:
		if call.arg != nil {
			return parseError(line, "filter %q takes no argument", call.name)
		}
	case argAny:
		if call.arg == nil {
			return parseError(line, "filter %q requires an argument", call.name)
		}
	case argNumber:
		if call.arg == nil || !call.arg.isNum || call.arg.num < 0 || call.arg.num > maxCount ||
			call.arg.num != math.Trunc(call.arg.num) {
			return parseError(line, "filter %q requires an integer between 0 and %d", call.name, maxCount)
		}
	}

	return nil
}

func applyFilter(call *filterCall, value string) string {
	return filters[call.name].fn(value, call.arg)
}

func defaultFilter(v string, arg *literal) string {
	if v == "" {
		return arg.String()
	}
	return v
}

// truncateFilter keeps the first N runes and marks the cut with an ellipsis.
func truncateFilter(v string, arg *literal) string {
	n := int(math.Min(math.Max(arg.num, 0), maxCount))
	if utf8.RuneCountInString(v) <= n {
		return v
	}
	runes := []rune(v)
	return strings.TrimRightFunc(string(runes[:n]), unicode.IsSpace) + ellipsis
}

func capitalizeFilter(v string, _ *literal) string {
	r, size := utf8.DecodeRuneInString(v)
	if r == utf8.RuneError {
		return v
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(v[size:])
}

func titleFilter(v string, _ *literal) string {
	var b strings.Builder
	b.Grow(len(v))

	start := true
	for _, r := range v {
		if unicode.IsSpace(r) || r == '-' {
			start = true
			b.WriteRune(r)
			continue
		}
		if start {
			b.WriteRune(unicode.ToUpper(r))
			start = false
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
