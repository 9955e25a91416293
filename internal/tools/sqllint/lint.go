package main

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"regexp"
	"strconv"
	"strings"
)

var (
	sqlMarkerPattern  = regexp.MustCompile(`(?i)\b(select|insert|update|delete|with)\b`)
	uuidMarkerPattern = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)
)

type violation struct {
	file    string
	name    string
	line    int
	message string
}

type linter struct {
	seen       map[string]token.Position
	violations []violation
}

func newLinter() *linter {
	return &linter{seen: make(map[string]token.Position)}
}

func (l *linter) lintFile(path string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}
	ast.Inspect(file, func(n ast.Node) bool {
		vs, ok := n.(*ast.ValueSpec)
		if !ok {
			return true
		}
		for _, value := range vs.Values {
			l.lintValue(fset, path, joinNames(vs.Names), value)
		}
		return true
	})
	return nil
}

// lintValue checks a string constant, or a concatenation whose leftmost
// operand is a string literal, as one query.
func (l *linter) lintValue(fset *token.FileSet, path, name string, value ast.Expr) {
	lits := stringLits(value)
	if len(lits) == 0 {
		return
	}
	var full strings.Builder
	for _, bl := range lits {
		raw, err := unquote(bl.Value)
		if err != nil {
			return
		}
		full.WriteString(raw)
	}
	if !sqlMarkerPattern.MatchString(full.String()) {
		return
	}

	head, _ := unquote(lits[0].Value)
	pos := fset.Position(lits[0].Pos())
	m := uuidMarkerPattern.FindStringSubmatch(firstLine(head))
	if m == nil {
		l.report(path, name, pos.Line, "missing or invalid --sql <uuid> marker")
		return
	}
	if prev, dup := l.seen[m[1]]; dup {
		l.report(path, name, pos.Line, fmt.Sprintf("marker %s already used at %s:%d", m[1], prev.Filename, prev.Line))
		return
	}
	l.seen[m[1]] = pos
}

func (l *linter) report(path, name string, line int, msg string) {
	l.violations = append(l.violations, violation{file: path, name: name, line: line, message: msg})
}

// stringLits flattens a + chain into its string literal operands, left to right.
// Identifiers in the chain are skipped; a chain not led by a literal yields nil.
func stringLits(e ast.Expr) []*ast.BasicLit {
	switch v := e.(type) {
	case *ast.BasicLit:
		if v.Kind == token.STRING {
			return []*ast.BasicLit{v}
		}
	case *ast.ParenExpr:
		return stringLits(v.X)
	case *ast.BinaryExpr:
		if v.Op != token.ADD {
			return nil
		}
		left := stringLits(v.X)
		if len(left) == 0 {
			return nil
		}
		if right, ok := v.Y.(*ast.BasicLit); ok && right.Kind == token.STRING {
			return append(left, right)
		}
		if _, ok := v.Y.(*ast.Ident); ok {
			return left
		}
		return append(left, stringLits(v.Y)...)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimLeft(s, "\n\r \t")
	if idx := strings.IndexAny(s, "\n\r"); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return strings.TrimSpace(s)
}

func unquote(v string) (string, error) {
	if len(v) == 0 {
		return v, nil
	}
	if v[0] == '`' {
		return v[1 : len(v)-1], nil
	}
	return strconv.Unquote(v)
}

func joinNames(idents []*ast.Ident) string {
	parts := make([]string, 0, len(idents))
	for _, ident := range idents {
		if ident == nil {
			continue
		}
		parts = append(parts, ident.Name)
	}
	return strings.Join(parts, ",")
}
