package engine

import (
	"regexp"
	"strings"
)

// queryStringExpr is a parsed query-string: a flat sequence of terms joined
// by boolean operators, evaluated left to right. This covers the pass-through
// subset the translator emits: AND/OR/NOT, quoted phrases, * and ? wildcards
// and ~N proximity suffixes.
type queryStringExpr struct {
	terms []queryStringTerm
	ops   []string // operator joining term i to term i+1: "AND" or "OR"

	// prohibited terms are NOT-prefixed: the document must not match any of
	// them, mirroring the engine's prohibited-clause handling.
	prohibited []queryStringTerm
}

type queryStringTerm struct {
	text   string
	phrase bool
}

var proximitySuffix = regexp.MustCompile(`~\d+$`)

func parseQueryString(q string) queryStringExpr {
	var expr queryStringExpr
	tokens := tokenizeQueryString(q)

	pendingOp := ""
	pendingNot := false
	for _, tok := range tokens {
		switch strings.ToUpper(tok.text) {
		case "AND", "OR":
			if !tok.phrase {
				pendingOp = strings.ToUpper(tok.text)
				continue
			}
		case "NOT":
			if !tok.phrase {
				pendingNot = true
				continue
			}
		}

		text := tok.text
		if !tok.phrase {
			// Proximity narrows a match; treating it as the underlying
			// phrase keeps the evaluation a superset of the engine's.
			text = proximitySuffix.ReplaceAllString(text, "")
		}
		if text == "" {
			continue
		}

		term := queryStringTerm{text: strings.ToLower(text), phrase: tok.phrase}
		if pendingNot {
			expr.prohibited = append(expr.prohibited, term)
			pendingNot = false
			pendingOp = ""
			continue
		}

		if len(expr.terms) > 0 {
			op := pendingOp
			if op == "" {
				op = "OR"
			}
			expr.ops = append(expr.ops, op)
		}
		expr.terms = append(expr.terms, term)
		pendingOp = ""
	}

	return expr
}

type queryStringToken struct {
	text   string
	phrase bool
}

func tokenizeQueryString(q string) []queryStringToken {
	var tokens []queryStringToken
	var current strings.Builder
	inPhrase := false

	flush := func(phrase bool) {
		if current.Len() > 0 {
			tokens = append(tokens, queryStringToken{text: current.String(), phrase: phrase})
			current.Reset()
		}
	}

	for _, r := range q {
		switch {
		case r == '"':
			if inPhrase {
				flush(true)
				inPhrase = false
			} else {
				flush(false)
				inPhrase = true
			}
		case !inPhrase && (r == ' ' || r == '\t' || r == '\n' || r == '(' || r == ')'):
			flush(false)
		default:
			current.WriteRune(r)
		}
	}
	flush(inPhrase)
	return tokens
}

// matches evaluates the expression against a pre-normalized lowercase text.
func (e queryStringExpr) matches(text string) bool {
	for _, term := range e.prohibited {
		if e.termMatches(term, text) {
			return false
		}
	}
	if len(e.terms) == 0 {
		return true
	}

	result := e.termMatches(e.terms[0], text)
	for i := 1; i < len(e.terms); i++ {
		next := e.termMatches(e.terms[i], text)
		if e.ops[i-1] == "AND" {
			result = result && next
		} else {
			result = result || next
		}
	}
	return result
}

// score reports the fraction of positive terms present, used for relevance
// ordering.
func (e queryStringExpr) score(text string) float64 {
	if len(e.terms) == 0 {
		return 0
	}
	matched := 0
	for _, term := range e.terms {
		if e.termMatches(term, text) {
			matched++
		}
	}
	return float64(matched) / float64(len(e.terms))
}

func (e queryStringExpr) termMatches(term queryStringTerm, text string) bool {
	switch {
	case term.phrase:
		return strings.Contains(text, term.text)
	case strings.ContainsAny(term.text, "*?"):
		re := wildcardRegexp(term.text)
		for _, word := range strings.Fields(text) {
			if re.MatchString(word) {
				return true
			}
		}
		return false
	default:
		for _, word := range strings.Fields(text) {
			if word == term.text {
				return true
			}
		}
		return false
	}
}

func wildcardRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return regexp.MustCompile(`$^`) // match nothing
	}
	return re
}
