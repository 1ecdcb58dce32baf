package harness

import (
	"regexp"
	"strings"

	appErr "codexec/pkg/errors"
)

// ForbiddenSQL lists statements rejected before any SQL reaches a database.
var ForbiddenSQL = []string{"drop", "delete", "truncate", "update", "insert", "create", "alter", "grant", "revoke"}

var (
	forbiddenSQLPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(ForbiddenSQL, "|") + `)\b`)
	selectPattern       = regexp.MustCompile(`(?i)\bselect\b`)
)

// CheckSQL gates a query: mutating keywords are rejected case-insensitively,
// exactly one statement is allowed and a SELECT is required. Passing the gate
// does not make a query safe; the executor still runs it read-only.
func CheckSQL(query string) error {
	if m := forbiddenSQLPattern.FindString(query); m != "" {
		return appErr.Newf(appErr.ForbiddenStatement, "forbidden SQL operation: %s", strings.ToUpper(m)).
			WithDetail("keyword", strings.ToUpper(m))
	}
	if n := CountStatements(query); n > 1 {
		return appErr.New(appErr.ForbiddenStatement).WithMessage("only a single SQL statement is allowed").
			WithDetail("statements", n)
	}
	if !selectPattern.MatchString(query) {
		return appErr.New(appErr.ForbiddenStatement).WithMessage("only SELECT queries are allowed")
	}
	return nil
}

// CountStatements returns how many non-empty statements query holds once
// split on semicolons. Semicolons inside string literals, quoted identifiers,
// dollar-quoted bodies and comments do not split.
func CountStatements(query string) int {
	count := 0
	pending := false
	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == ';':
			if pending {
				count++
				pending = false
			}
			i++
		case c == '-' && strings.HasPrefix(query[i:], "--"):
			if end := strings.IndexByte(query[i:], '\n'); end >= 0 {
				i += end + 1
			} else {
				i = len(query)
			}
		case c == '/' && strings.HasPrefix(query[i:], "/*"):
			i = skipBlockComment(query, i)
		case c == '\'' || c == '"':
			pending = true
			i = skipQuoted(query, i, c)
		case c == '$':
			pending = true
			// Identifiers may contain $ after their first character.
			if tag, ok := dollarTag(query[i:]); ok && (i == 0 || !isIdentByte(query[i-1])) {
				if end := strings.Index(query[i+len(tag):], tag); end >= 0 {
					i += len(tag) + end + len(tag)
				} else {
					i = len(query)
				}
			} else {
				i++
			}
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f':
			i++
		default:
			pending = true
			i++
		}
	}
	if pending {
		count++
	}
	return count
}

// skipQuoted returns the index after the literal opened at i. A doubled
// quote character stands for itself.
func skipQuoted(query string, i int, quote byte) int {
	for j := i + 1; j < len(query); j++ {
		if query[j] != quote {
			continue
		}
		if j+1 < len(query) && query[j+1] == quote {
			j++
			continue
		}
		return j + 1
	}
	return len(query)
}

// skipBlockComment returns the index after the comment opened at i.
// Block comments nest.
func skipBlockComment(query string, i int) int {
	depth := 0
	for j := i; j < len(query)-1; {
		switch {
		case query[j] == '/' && query[j+1] == '*':
			depth++
			j += 2
		case query[j] == '*' && query[j+1] == '/':
			depth--
			j += 2
			if depth == 0 {
				return j
			}
		default:
			j++
		}
	}
	return len(query)
}

// dollarTag reports the $tag$ opening s. Positional parameters such as $1
// are not tags.
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1], true
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && j > 1:
		default:
			return "", false
		}
	}
	return "", false
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c >= 0x80
}
