// Package expr parses content request expressions.
//
// Grammar, loosest first:
//
//	request  = section { ("," | "+") section }   results are unioned
//	section  = group { "|" group }                results are unioned
//	group    = term { "&" term }                  results are intersected
//	term     = name [ "/" pattern ]
//
// Unescaped whitespace is ignored. A backslash escapes any of
// `* ? , + & | / \` or whitespace. Escaped "*", "?" and "\" stay escaped
// inside the pattern so the glob matcher treats them literally.
//
// Parsing is total: every input yields either an Expression or a
// *ParseError carrying the byte offset and offending fragment.
package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/HendryAvila/docket/internal/match"
)

// Expression is a parsed request: an ordered list of groups whose results
// are unioned. Each group intersects the results of its terms.
type Expression struct {
	Groups []Group `json:"groups"`
}

// Group is an AND-combination of terms.
type Group struct {
	Terms []Term `json:"terms"`
	// Section is the index of the comma-separated section the group came from.
	Section int `json:"section"`
	Offset  int `json:"offset"`
}

// Term is one category, collection or category/pattern reference.
type Term struct {
	// Name is a category name, or a collection name when HasPattern is false.
	Name       string `json:"name"`
	Pattern    string `json:"pattern,omitempty"`
	HasPattern bool   `json:"has_pattern"`
	Raw        string `json:"raw"`
	Offset     int    `json:"offset"`
}

func (t Term) String() string {
	if t.HasPattern {
		return t.Name + "/" + t.Pattern
	}
	return t.Name
}

// ParseError describes malformed input.
type ParseError struct {
	Offset   int
	Fragment string
	Msg      string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at byte %d near %q: %s", e.Offset, e.Fragment, e.Msg)
}

type tokenKind int

const (
	tokChar tokenKind = iota
	tokAnd
	tokOr
	tokUnion
)

type token struct {
	kind    tokenKind
	r       rune
	off     int
	width   int
	escaped bool
}

// Parse parses input into an Expression.
func Parse(input string) (*Expression, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, &ParseError{Offset: 0, Fragment: input, Msg: "empty expression"}
	}

	p := parser{input: input}
	for _, tk := range tokens {
		switch tk.kind {
		case tokChar:
			p.termToks = append(p.termToks, tk)
		case tokAnd:
			if err := p.closeTerm(tk); err != nil {
				return nil, err
			}
		case tokOr, tokUnion:
			if err := p.closeTerm(tk); err != nil {
				return nil, err
			}
			p.closeGroup()
			if tk.kind == tokUnion {
				p.section++
			}
		}
	}
	end := token{off: len(input)}
	if err := p.closeTerm(end); err != nil {
		return nil, err
	}
	p.closeGroup()
	return &p.expr, nil
}

func lex(input string) ([]token, error) {
	var tokens []token
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRuneInString(input[i:])
		if r == utf8.RuneError && size == 1 {
			return nil, &ParseError{Offset: i, Fragment: input[i : i+1], Msg: "invalid UTF-8"}
		}
		switch {
		case r == '\\':
			if i+size >= len(input) {
				return nil, &ParseError{Offset: i, Fragment: input[i:], Msg: "dangling escape at end of expression"}
			}
			next, nsize := utf8.DecodeRuneInString(input[i+size:])
			if !escapable(next) {
				return nil, &ParseError{
					Offset:   i,
					Fragment: input[i : i+size+nsize],
					Msg:      fmt.Sprintf("cannot escape %q", next),
				}
			}
			tokens = append(tokens, token{kind: tokChar, r: next, off: i, width: size + nsize, escaped: true})
			i += size + nsize
			continue
		case unicode.IsSpace(r):
		case r == ',' || r == '+':
			tokens = append(tokens, token{kind: tokUnion, r: r, off: i, width: size})
		case r == '|':
			tokens = append(tokens, token{kind: tokOr, r: r, off: i, width: size})
		case r == '&':
			tokens = append(tokens, token{kind: tokAnd, r: r, off: i, width: size})
		default:
			tokens = append(tokens, token{kind: tokChar, r: r, off: i, width: size})
		}
		i += size
	}
	return tokens, nil
}

func escapable(r rune) bool {
	switch r {
	case '*', '?', ',', '+', '&', '|', '/', '\\':
		return true
	}
	return unicode.IsSpace(r)
}

type parser struct {
	input    string
	expr     Expression
	group    Group
	termToks []token
	section  int
}

func (p *parser) closeTerm(at token) error {
	if len(p.termToks) == 0 {
		frag := "end of expression"
		msg := "expected a term before end of expression"
		if at.width > 0 {
			frag = p.input[at.off : at.off+at.width]
			msg = fmt.Sprintf("expected a term before %q", at.r)
		}
		return &ParseError{Offset: at.off, Fragment: frag, Msg: msg}
	}
	term, err := p.buildTerm(p.termToks)
	if err != nil {
		return err
	}
	if len(p.group.Terms) == 0 {
		p.group.Offset = term.Offset
	}
	p.group.Terms = append(p.group.Terms, term)
	p.termToks = nil
	return nil
}

func (p *parser) closeGroup() {
	p.group.Section = p.section
	p.expr.Groups = append(p.expr.Groups, p.group)
	p.group = Group{}
}

func (p *parser) buildTerm(toks []token) (Term, error) {
	first, last := toks[0], toks[len(toks)-1]
	raw := strings.TrimSpace(p.input[first.off : last.off+last.width])
	term := Term{Raw: raw, Offset: first.off}

	slash := -1
	for i, tk := range toks {
		if tk.r == '/' && !tk.escaped {
			slash = i
			break
		}
	}

	nameToks := toks
	var patToks []token
	if slash >= 0 {
		nameToks, patToks = toks[:slash], toks[slash+1:]
		if len(nameToks) == 0 {
			return Term{}, &ParseError{Offset: toks[slash].off, Fragment: raw, Msg: "missing category name before '/'"}
		}
		if len(patToks) == 0 {
			return Term{}, &ParseError{Offset: toks[slash].off, Fragment: raw, Msg: "missing document pattern after '/'"}
		}
	}

	var name strings.Builder
	for _, tk := range nameToks {
		if tk.escaped || !nameRune(tk.r) {
			return Term{}, &ParseError{
				Offset:   tk.off,
				Fragment: raw,
				Msg:      fmt.Sprintf("invalid character %q in category name", tk.r),
			}
		}
		name.WriteRune(tk.r)
	}
	term.Name = name.String()

	if slash >= 0 {
		var pat strings.Builder
		for _, tk := range patToks {
			if tk.escaped && (tk.r == '*' || tk.r == '?' || tk.r == '\\') {
				pat.WriteRune('\\')
			}
			pat.WriteRune(tk.r)
		}
		term.Pattern = pat.String()
		term.HasPattern = true
		if err := match.ValidatePattern(term.Pattern); err != nil {
			return Term{}, &ParseError{Offset: patToks[0].off, Fragment: raw, Msg: err.Error()}
		}
	}
	return term, nil
}

func nameRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.'
}
