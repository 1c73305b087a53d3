package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type tokenKind uint8

const (
	tokenLiteral tokenKind = iota
	tokenTemplate
	tokenCompare
	tokenAnd
	tokenOr
	tokenNot
	tokenLeftParen
	tokenRightParen
	tokenEOF
)

type token struct {
	kind  tokenKind
	text  string
	value any
	pos   int
}

type syntaxError struct {
	pos int
	msg string
}

func (e *syntaxError) Error() string {
	return fmt.Sprintf("%s at position %d", e.msg, e.pos)
}

func errAt(pos int, format string, args ...any) *syntaxError {
	return &syntaxError{pos: pos, msg: fmt.Sprintf(format, args...)}
}

// lex tokenizes a condition expression. Template spans are kept unresolved
// so evaluation can skip them under short-circuit.
func lex(src string) ([]token, *syntaxError) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case strings.HasPrefix(src[i:], "{{"):
			end := strings.Index(src[i+2:], "}}")
			if end < 0 {
				return nil, errAt(i, "unclosed template expression")
			}
			raw := src[i : i+2+end+2]
			tokens = append(tokens, token{kind: tokenTemplate, text: raw, pos: i})
			i += len(raw)
		case c == '(':
			tokens = append(tokens, token{kind: tokenLeftParen, pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokenRightParen, pos: i})
			i++
		case c == '&':
			if i+1 >= len(src) || src[i+1] != '&' {
				return nil, errAt(i, "expected &&")
			}
			tokens = append(tokens, token{kind: tokenAnd, pos: i})
			i += 2
		case c == '|':
			if i+1 >= len(src) || src[i+1] != '|' {
				return nil, errAt(i, "expected ||")
			}
			tokens = append(tokens, token{kind: tokenOr, pos: i})
			i += 2
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				tokens = append(tokens, token{kind: tokenCompare, text: "!=", pos: i})
				i += 2
			} else {
				tokens = append(tokens, token{kind: tokenNot, pos: i})
				i++
			}
		case c == '=':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, errAt(i, "expected ==")
			}
			tokens = append(tokens, token{kind: tokenCompare, text: "==", pos: i})
			i += 2
		case c == '<' || c == '>':
			op := string(c)
			i++
			if i < len(src) && src[i] == '=' {
				op += "="
				i++
			}
			tokens = append(tokens, token{kind: tokenCompare, text: op, pos: i - len(op)})
		case c == '\'' || c == '"':
			lit, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenLiteral, value: lit, pos: i})
			i = next
		case c >= '0' && c <= '9' || (c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9'):
			num, next, err := lexNumber(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokenLiteral, value: num, pos: i})
			i = next
		case isWordChar(c):
			start := i
			for i < len(src) && isWordChar(src[i]) {
				i++
			}
			word := src[start:i]
			switch word {
			case "true":
				tokens = append(tokens, token{kind: tokenLiteral, value: true, pos: start})
			case "false":
				tokens = append(tokens, token{kind: tokenLiteral, value: false, pos: start})
			case "null":
				tokens = append(tokens, token{kind: tokenLiteral, value: nil, pos: start})
			default:
				return nil, errAt(start, "unquoted word %q (string literals need quotes)", word)
			}
		default:
			return nil, errAt(i, "unexpected character %q", string(c))
		}
	}
	tokens = append(tokens, token{kind: tokenEOF, pos: len(src)})
	return tokens, nil
}

// lexString scans a quoted literal, honoring backslash escapes of the quote
// character and the backslash itself.
func lexString(src string, start int) (string, int, *syntaxError) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src) && (src[i+1] == quote || src[i+1] == '\\'):
			b.WriteByte(src[i+1])
			i += 2
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, errAt(start, "unterminated string literal")
}

func lexNumber(src string, start int) (any, int, *syntaxError) {
	i := start
	if src[i] == '-' {
		i++
	}
	for i < len(src) && isNumberChar(src[i]) {
		i++
	}
	lit := src[start:i]
	if !strings.ContainsAny(lit, ".eE") {
		if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return n, i, nil
		}
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, 0, errAt(start, "malformed number %q", lit)
	}
	return f, i, nil
}

func isNumberChar(c byte) bool {
	return c >= '0' && c <= '9' || c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-'
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}
