package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex splits src into tokens. Only the operators of the condition grammar are
// recognised; any other character is a syntax error.
func lex(src string) ([]token, error) {
	var out []token
	rs := []rune(src)

	for i := 0; i < len(rs); {
		c := rs[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			out = append(out, token{tokLParen, "(", i})
			i++
		case c == ')':
			out = append(out, token{tokRParen, ")", i})
			i++
		case c == '"' || c == '\'':
			s, next, err := lexString(rs, i)
			if err != nil {
				return nil, err
			}
			out = append(out, token{tokString, s, i})
			i = next
		case i+1 < len(rs) && isTwoCharOp(string(rs[i:i+2])):
			out = append(out, token{tokOp, string(rs[i : i+2]), i})
			i += 2
		case c == '>' || c == '<' || c == '!':
			out = append(out, token{tokOp, string(c), i})
			i++
		case isDigit(c) || (c == '-' && i+1 < len(rs) && isDigit(rs[i+1]) && signAllowed(out)):
			start := i
			if c == '-' {
				i++
			}
			for i < len(rs) && isDigit(rs[i]) {
				i++
			}
			if i < len(rs) && rs[i] == '.' {
				i++
				for i < len(rs) && isDigit(rs[i]) {
					i++
				}
			}
			out = append(out, token{tokNumber, string(rs[start:i]), start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '.') {
				i++
			}
			out = append(out, token{tokIdent, string(rs[start:i]), start})
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at %d", ErrSyntax, string(c), i)
		}
	}
	return out, nil
}

func lexString(rs []rune, start int) (string, int, error) {
	quote := rs[start]
	var sb strings.Builder
	for i := start + 1; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			if i+1 < len(rs) {
				i++
				sb.WriteRune(rs[i])
			}
		case quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(rs[i])
		}
	}
	return "", 0, fmt.Errorf("%w: unterminated string at %d", ErrSyntax, start)
}

func isTwoCharOp(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", "&&", "||":
		return true
	}
	return false
}

func isDigit(c rune) bool { return c >= '0' && c <= '9' }

// signAllowed reports whether a '-' starts a negative literal: at the start of
// input, after an operator or after an opening parenthesis.
func signAllowed(prev []token) bool {
	if len(prev) == 0 {
		return true
	}
	k := prev[len(prev)-1].kind
	return k == tokOp || k == tokLParen
}
