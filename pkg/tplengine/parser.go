package tplengine

import (
	"sort"
	"strconv"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

type segmentKind uint8

const (
	segField segmentKind = iota
	segIndex
)

type segment struct {
	kind  segmentKind
	field string
	index int
}

// expression is one parsed {{ path }} occurrence.
type expression struct {
	raw  string // expression text including delimiters
	path []segment
}

// span locates an expression inside a template string.
type span struct {
	start int
	end   int // exclusive, past the closing delimiter
	expr  expression
}

// HasTemplate reports whether s contains template syntax.
func HasTemplate(s string) bool {
	return strings.Contains(s, openDelim)
}

// parseTemplate scans s for {{ path }} expressions. Malformed syntax yields
// a KindInvalidTemplate error.
func parseTemplate(s string) ([]span, *Error) {
	var spans []span
	offset := 0
	rest := s
	for {
		open := strings.Index(rest, openDelim)
		if open < 0 {
			if strings.Contains(rest, closeDelim) {
				return nil, newError(KindInvalidTemplate, s, "unexpected %q without opening delimiter", closeDelim)
			}
			return spans, nil
		}
		tail := rest[open+len(openDelim):]
		closing := strings.Index(tail, closeDelim)
		if closing < 0 {
			return nil, newError(KindInvalidTemplate, s, "unclosed %q", openDelim)
		}
		inner := tail[:closing]
		if strings.Contains(inner, openDelim) {
			return nil, newError(KindInvalidTemplate, s, "nested %q", openDelim)
		}
		path, err := parsePath(inner)
		if err != nil {
			return nil, err
		}
		start := offset + open
		end := offset + open + len(openDelim) + closing + len(closeDelim)
		spans = append(spans, span{
			start: start,
			end:   end,
			expr:  expression{raw: s[start:end], path: path},
		})
		rest = rest[open+len(openDelim)+closing+len(closeDelim):]
		offset = end
	}
}

// parsePath parses a dotted path with optional [N] index segments, e.g.
// tasks.fetch-user.output.items[0].id
func parsePath(raw string) ([]segment, *Error) {
	expr := openDelim + raw + closeDelim
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, newError(KindInvalidTemplate, expr, "empty expression")
	}
	var segs []segment
	i := 0
	readIdent := func() (string, bool) {
		start := i
		for i < len(s) && isIdentChar(s[i], i == start) {
			i++
		}
		if i == start {
			return "", false
		}
		return s[start:i], true
	}
	ident, ok := readIdent()
	if !ok {
		return nil, newError(KindInvalidTemplate, expr, "expression must start with an identifier")
	}
	segs = append(segs, segment{kind: segField, field: ident})
	for i < len(s) {
		switch s[i] {
		case '.':
			i++
			ident, ok := readIdent()
			if !ok {
				return nil, newError(KindInvalidTemplate, expr, "expected identifier after '.'")
			}
			segs = append(segs, segment{kind: segField, field: ident})
		case '[':
			i++
			start := i
			for i < len(s) && s[i] >= '0' && s[i] <= '9' {
				i++
			}
			if i == start || i >= len(s) || s[i] != ']' {
				return nil, newError(KindInvalidTemplate, expr, "expected [N] index")
			}
			idx, convErr := strconv.Atoi(s[start:i])
			if convErr != nil {
				return nil, newError(KindInvalidTemplate, expr, "invalid index: %v", convErr)
			}
			i++
			segs = append(segs, segment{kind: segIndex, index: idx})
		default:
			return nil, newError(KindInvalidTemplate, expr, "unexpected character %q", s[i])
		}
	}
	return segs, nil
}

func isIdentChar(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case !first && (c >= '0' && c <= '9' || c == '-'):
		return true
	}
	return false
}

// ExtractTaskRefs returns the task ids referenced as tasks.<id>... inside s.
// Malformed templates contribute nothing; validation reports them separately.
func ExtractTaskRefs(s string) []string {
	spans, err := parseTemplate(s)
	if err != nil {
		return nil
	}
	seen := map[string]struct{}{}
	for _, sp := range spans {
		path := sp.expr.path
		if len(path) >= 2 && path[0].kind == segField && path[0].field == "tasks" && path[1].kind == segField {
			seen[path[1].field] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// ExtractTaskRefsDeep walks maps, slices and strings collecting task ids
// from every template found.
func ExtractTaskRefsDeep(v any) []string {
	seen := map[string]struct{}{}
	collectTaskRefs(v, seen)
	return sortedKeys(seen)
}

func collectTaskRefs(v any, seen map[string]struct{}) {
	switch t := v.(type) {
	case string:
		for _, id := range ExtractTaskRefs(t) {
			seen[id] = struct{}{}
		}
	case map[string]any:
		for _, vv := range t {
			collectTaskRefs(vv, seen)
		}
	case []any:
		for _, vv := range t {
			collectTaskRefs(vv, seen)
		}
	}
}

// ValidateTemplates walks v and returns the first syntax error found.
func ValidateTemplates(v any) *Error {
	switch t := v.(type) {
	case string:
		_, err := parseTemplate(t)
		return err
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := ValidateTemplates(t[k]); err != nil {
				return err
			}
		}
	case []any:
		for _, vv := range t {
			if err := ValidateTemplates(vv); err != nil {
				return err
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
