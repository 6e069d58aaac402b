// Package formula parses newline-separated `name = expression` definitions.
//
// Expressions are parsed with the HCL native syntax parser, which already
// knows arithmetic precedence, parentheses, numeric literals and function
// calls. The parser never fails as a whole: lines that cannot be used are
// recorded as skipped, and an expression HCL rejects is kept together with
// its parse error so that the evaluator can report it against the variable.
package formula

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// sourceName is the pseudo file name used in HCL diagnostics.
const sourceName = "formulas"

var (
	identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	tokenRegex = regexp.MustCompile(`\b[A-Za-z_][A-Za-z0-9_]*\b`)
)

// FunctionSet reports which call names belong to the function library.
type FunctionSet interface {
	Has(name string) bool
}

// Formula is one parsed definition.
type Formula struct {
	// Name is the variable the formula defines.
	Name string
	// Source is the expression text as written, trimmed.
	Source string
	// Line is the 1-based line number of the definition.
	Line int
	// Expr is the parsed expression tree. It is nil when ParseErr is set.
	Expr hclsyntax.Expression
	// Refs lists every variable the expression references, in order of
	// first appearance, without duplicates. It may include Name itself.
	Refs []string
	// ParseErr holds the reason HCL rejected the expression.
	ParseErr error
}

// Skipped describes a definition line that was not turned into a Formula.
type Skipped struct {
	Line   int
	Text   string
	Reason string
}

// String renders the skipped line for logs.
func (s Skipped) String() string {
	return fmt.Sprintf("line %d: %s: %q", s.Line, s.Reason, s.Text)
}

// Set is the ordered result of parsing one formula source.
type Set struct {
	formulas []*Formula
	byName   map[string]*Formula
	// Skipped lists malformed, invalid or shadowed definitions.
	Skipped []Skipped
}

// Parse turns the formula text into a Set. funcs tells the parser which call
// names are library functions; it may be nil.
func Parse(text string, funcs FunctionSet) *Set {
	set := &Set{byName: make(map[string]*Formula)}

	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		parts := strings.Split(line, "=")
		if len(parts) != 2 {
			set.Skipped = append(set.Skipped, Skipped{Line: lineNo, Text: line, Reason: "expected exactly one '='"})
			continue
		}

		name := strings.TrimSpace(parts[0])
		source := strings.TrimSpace(parts[1])
		if !identRegex.MatchString(name) {
			set.Skipped = append(set.Skipped, Skipped{Line: lineNo, Text: line, Reason: "invalid variable name"})
			continue
		}
		if source == "" {
			set.Skipped = append(set.Skipped, Skipped{Line: lineNo, Text: line, Reason: "empty expression"})
			continue
		}

		set.add(parseDefinition(name, source, lineNo, funcs))
	}

	return set
}

// add appends f, replacing an earlier definition of the same name.
func (s *Set) add(f *Formula) {
	if prev, ok := s.byName[f.Name]; ok {
		s.Skipped = append(s.Skipped, Skipped{
			Line:   prev.Line,
			Text:   prev.Name + " = " + prev.Source,
			Reason: fmt.Sprintf("shadowed by definition on line %d", f.Line),
		})
		for i, existing := range s.formulas {
			if existing == prev {
				s.formulas = append(s.formulas[:i], s.formulas[i+1:]...)
				break
			}
		}
	}
	s.byName[f.Name] = f
	s.formulas = append(s.formulas, f)
}

// Formulas returns the formulas in definition order.
func (s *Set) Formulas() []*Formula {
	return append([]*Formula(nil), s.formulas...)
}

// Lookup returns the formula defining name.
func (s *Set) Lookup(name string) (*Formula, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Len returns the number of formulas.
func (s *Set) Len() int {
	return len(s.formulas)
}

// Names returns the defined variable names in definition order.
func (s *Set) Names() []string {
	names := make([]string, len(s.formulas))
	for i, f := range s.formulas {
		names[i] = f.Name
	}
	return names
}

func parseDefinition(name, source string, line int, funcs FunctionSet) *Formula {
	f := &Formula{Name: name, Source: source, Line: line}

	expr, diags := hclsyntax.ParseExpression([]byte(spaceDashes(source)), sourceName, hcl.Pos{Line: line, Column: 1, Byte: 0})
	if diags.HasErrors() {
		f.ParseErr = fmt.Errorf("invalid expression: %w", diags)
		f.Refs = scanIdentifiers(source, funcs)
		return f
	}

	f.Expr = expr
	f.Refs = references(expr)
	return f
}

// references returns the root names of all traversals in expr, including
// those nested inside function call arguments.
func references(expr hclsyntax.Expression) []string {
	var refs []string
	seen := make(map[string]struct{})
	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		refs = append(refs, root)
	}
	return refs
}

// scanIdentifiers recovers references from text HCL could not parse.
func scanIdentifiers(source string, funcs FunctionSet) []string {
	var refs []string
	seen := make(map[string]struct{})
	for _, tok := range tokenRegex.FindAllString(source, -1) {
		if funcs != nil && funcs.Has(tok) {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		refs = append(refs, tok)
	}
	return refs
}

// spaceDashes turns a '-' directly after an identifier into a spaced binary
// minus. HCL allows dashes inside identifiers, so "x1-x2" would otherwise
// read as one name. Dashes inside numbers such as 1e-3 are kept.
func spaceDashes(source string) string {
	const (
		none = iota
		ident
		number
	)

	var sb strings.Builder
	state := none
	var prev rune
	for _, r := range source {
		isLetter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		isDigit := r >= '0' && r <= '9'

		switch {
		case r == '-' && state == ident:
			sb.WriteString(" - ")
			state = none
			continue
		case isLetter && state == none:
			state = ident
		case isDigit && state == none:
			state = number
		case (isLetter || isDigit) && state != none:
			// continues the current token
		case r == '.' && state == number:
			// decimal point
		case r == '-' && state == number && (prev == 'e' || prev == 'E'):
			// exponent sign, e.g. 1e-3
		default:
			state = none
		}
		sb.WriteRune(r)
		prev = r
	}
	return sb.String()
}
