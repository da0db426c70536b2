// Package skinc compiles skin/view HTML templates into C++ source for
// the cppcms view runtime.
//
// # Basic Usage
//
//	// Compile two template files into C++ source
//	out, warnings, err := skinc.Compile([]skinc.File{
//	    {Name: "master.tmpl", Content: master},
//	    {Name: "page.tmpl", Content: page},
//	}, skinc.Options{Skin: "mysite"})
//
// # Pipeline
//
// The compiler is a classic front end and middle end: a backtracking
// scanner over the concatenated input (package scanner over package
// source), a directive-level parser building the tree (package parser
// over package ast and package expr), and an emitter walking the tree
// into C++ text with #line pragmas (package generator). Compile wires
// them together; callers that need only one stage (an AST dump, a
// parse check) use ParseFiles and the ast/generator packages directly.
package skinc

import (
	"strings"

	"github.com/codingersid/skinc/ast"
	"github.com/codingersid/skinc/generator"
	"github.com/codingersid/skinc/parser"
	"github.com/codingersid/skinc/source"
)

// File is one input template: a logical name (used in diagnostics and
// #line pragmas) and its content.
type File = source.NamedContent

// Options configures a compilation.
type Options struct {
	// Skin renames the "__default__" skin placeholder. Required when a
	// template opens an unnamed "<% skin %>".
	Skin string
}

// ParseFiles parses the given templates into an AST, returning the
// tree and any non-fatal warnings (e.g. the deprecated bare-variable
// directive syntax).
func ParseFiles(files []File) (*ast.Tree, []string, error) {
	res, err := parser.Parse(files)
	if err != nil {
		return nil, nil, err
	}
	return res.Tree, res.Warnings, nil
}

// Compile parses the given templates and emits C++ source for them.
func Compile(files []File, opts Options) (string, []string, error) {
	tree, warnings, err := ParseFiles(files)
	if err != nil {
		return "", nil, err
	}
	ctx := generator.NewContext()
	ctx.Skin = opts.Skin
	ctx.OutputMode = tree.Root.Mode()

	var out strings.Builder
	if err := generator.Write(tree, tree.Root.ID(), ctx, &out); err != nil {
		return "", warnings, err
	}
	return out.String(), warnings, nil
}

// DumpAST parses the given templates and renders the tree as an
// indented debug dump.
func DumpAST(files []File) (string, []string, error) {
	tree, warnings, err := ParseFiles(files)
	if err != nil {
		return "", nil, err
	}
	var out strings.Builder
	ast.Dump(tree, tree.Root.ID(), &out, 0)
	return out.String(), warnings, nil
}
