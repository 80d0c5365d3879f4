package compiler

import (
	"bytes"

	"github.com/pkg/errors"

	"sink/ast"
	"sink/host"
	"sink/lexer"
	"sink/parser"
)

// readIncluded resolves path through the configured Includer and returns
// its full contents, for `embed` (spec.md §6: embed always yields the raw
// file bytes as a string, unlike `include`, which is parsed).
func (c *Compiler) readIncluded(path string) ([]byte, error) {
	if c.includer == nil {
		return nil, errors.New("no includer configured")
	}
	if c.includer.Probe(path) != host.ProbeFile {
		return nil, errors.Errorf("include: %q is not a file", path)
	}
	var buf bytes.Buffer
	if err := c.includer.Read(path, &buf); err != nil {
		return nil, errors.Wrapf(err, "include: reading %q", path)
	}
	return buf.Bytes(), nil
}

// parseIncluded resolves and fully parses path's contents, for `include`
// (spec.md §6: the included source is spliced into the compile stream in
// place, as if its statements had been written at the include site).
func (c *Compiler) parseIncluded(path string) ([]ast.Stmt, error) {
	data, err := c.readIncluded(path)
	if err != nil {
		return nil, err
	}
	lex := lexer.New(data)
	p := parser.New(lex)
	stmts := p.ParseProgram()
	if perr := p.Err(); perr != nil {
		return nil, errors.Wrapf(perr, "include: parsing %q", path)
	}
	return stmts, nil
}
