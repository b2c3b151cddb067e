package main

import (
	"fmt"
	"go/ast"
	"go/types"

	"github.com/dave/jennifer/jen"
)

// methodKind classifies a proxy method by how it talks to the hub, derived
// entirely from the interface method's signature.
type methodKind int

const (
	kindSend methodKind = iota
	kindInvoke
	kindEnumerate
)

type param struct {
	name string
	typ  ast.Expr
}

type methodInfo struct {
	name    string
	params  []param
	results []ast.Expr
	kind    methodKind
}

// generator walks a parsed file looking for the named interface and
// collects its methods, implementing ast.Visitor for use with ast.Walk.
type generator struct {
	ifaceName string
	imports   map[string]string // local package name -> import path
	methods   []*methodInfo
	found     bool
}

func newGenerator(ifaceName string, imports map[string]string) *generator {
	return &generator{ifaceName: ifaceName, imports: imports}
}

func (g *generator) Visit(node ast.Node) ast.Visitor {
	spec, ok := node.(*ast.TypeSpec)
	if !ok || spec.Name.Name != g.ifaceName {
		return g
	}
	iface, ok := spec.Type.(*ast.InterfaceType)
	if !ok {
		return g
	}
	g.found = true
	for _, field := range iface.Methods.List {
		if len(field.Names) != 1 {
			continue // embedded interfaces aren't supported
		}
		fn, ok := field.Type.(*ast.FuncType)
		if !ok {
			continue
		}
		g.methods = append(g.methods, methodFromDecl(field.Names[0].Name, fn))
	}
	return nil
}

func methodFromDecl(name string, fn *ast.FuncType) *methodInfo {
	m := &methodInfo{name: name}
	if fn.Params != nil {
		for _, f := range fn.Params.List {
			names := f.Names
			if len(names) == 0 {
				names = []*ast.Ident{{Name: ""}}
			}
			for _, n := range names {
				m.params = append(m.params, param{name: n.Name, typ: f.Type})
			}
		}
	}
	if fn.Results != nil {
		for _, f := range fn.Results.List {
			count := len(f.Names)
			if count == 0 {
				count = 1
			}
			for i := 0; i < count; i++ {
				m.results = append(m.results, f.Type)
			}
		}
	}
	m.kind = classify(m.results)
	return m
}

// classify decides whether a method proxies to Invoke, Send, or Enumerate
// purely from its results: two results whose first is a channel stream;
// any other two results, or a single result other than error, invoke and
// wait for one result; a lone error, no results, or three or more fire and
// forget.
func classify(results []ast.Expr) methodKind {
	switch len(results) {
	case 2:
		if _, ok := results[0].(*ast.ChanType); ok {
			return kindEnumerate
		}
		return kindInvoke
	case 1:
		if id, ok := results[0].(*ast.Ident); ok && id.Name == "error" {
			return kindSend
		}
		return kindInvoke
	default:
		return kindSend
	}
}

// generateProxy emits a struct named structName wrapping *signalr.HubConnection,
// with one method per collected interface method.
func (g *generator) generateProxy(pkgName, structName string) (*jen.File, error) {
	if !g.found {
		return nil, fmt.Errorf("interface %q not found", g.ifaceName)
	}

	f := jen.NewFile(pkgName)
	f.HeaderComment("Code generated by genproxy from interface " + g.ifaceName + ". DO NOT EDIT.")
	// The module's root package is named "signalr", not "signalrclient"
	// (its import path's last segment), so tell jennifer explicitly
	// rather than let it guess the wrong alias from the path.
	f.ImportAlias(signalrPkg, "signalr")

	f.Type().Id(structName).Struct(
		jen.Id("conn").Op("*").Qual(signalrPkg, "HubConnection"),
	)

	f.Func().Id("New"+structName).Params(
		jen.Id("conn").Op("*").Qual(signalrPkg, "HubConnection"),
	).Op("*").Id(structName).Block(
		jen.Return(jen.Op("&").Id(structName).Values(jen.Dict{
			jen.Id("conn"): jen.Id("conn"),
		})),
	)

	for _, m := range g.methods {
		g.generateMethod(f, structName, m)
	}
	return f, nil
}

const signalrPkg = "github.com/nexusrpc/signalrclient"

func (g *generator) typeCode(expr ast.Expr) jen.Code {
	switch t := expr.(type) {
	case *ast.Ident:
		if t.Name == "any" {
			return jen.Interface()
		}
		return jen.Id(t.Name)
	case *ast.SelectorExpr:
		if pkgIdent, ok := t.X.(*ast.Ident); ok {
			path := g.imports[pkgIdent.Name]
			if path == "" {
				path = pkgIdent.Name
			}
			return jen.Qual(path, t.Sel.Name)
		}
	case *ast.StarExpr:
		return jen.Op("*").Add(g.typeCode(t.X))
	case *ast.ArrayType:
		if t.Len == nil {
			return jen.Index().Add(g.typeCode(t.Elt))
		}
	case *ast.MapType:
		return jen.Map(g.typeCode(t.Key)).Add(g.typeCode(t.Value))
	case *ast.InterfaceType:
		if t.Methods == nil || len(t.Methods.List) == 0 {
			return jen.Interface()
		}
	case *ast.Ellipsis:
		return jen.Op("...").Add(g.typeCode(t.Elt))
	case *ast.ChanType:
		if t.Dir == ast.RECV {
			return jen.Op("<-chan").Add(g.typeCode(t.Value))
		}
		return jen.Op("chan").Add(g.typeCode(t.Value))
	}
	// Anything this doesn't special-case (fixed-size arrays, generic
	// instantiations, ...) still renders correctly as plain source text.
	return jen.Id(types.ExprString(expr))
}

func (g *generator) generateMethod(f *jen.File, structName string, m *methodInfo) {
	params := []jen.Code{jen.Id("ctx").Qual("context", "Context")}
	var forward []jen.Code
	for _, p := range m.params {
		if isContextParam(p) {
			continue
		}
		name := p.name
		if name == "" || name == "_" {
			name = "arg"
		}
		params = append(params, jen.Id(name).Add(g.typeCode(p.typ)))
		forward = append(forward, jen.Id(name))
	}

	recv := jen.Id("p").Op("*").Id(structName)

	switch m.kind {
	case kindSend:
		f.Func().Params(recv).Id(m.name).Params(params...).Error().Block(
			jen.Return(jen.Id("p").Dot("conn").Dot("Send").Call(
				append([]jen.Code{jen.Id("ctx"), jen.Lit(m.name)}, forward...)...,
			)),
		)
	case kindInvoke:
		resultType := g.typeCode(m.results[0])
		f.Func().Params(recv).Id(m.name).Params(params...).Params(resultType, jen.Error()).Block(
			jen.Var().Id("result").Add(resultType),
			jen.Id("err").Op(":=").Id("p").Dot("conn").Dot("Invoke").Call(
				append([]jen.Code{jen.Id("ctx"), jen.Lit(m.name), jen.Op("&").Id("result")}, forward...)...,
			),
			jen.Return(jen.Id("result"), jen.Id("err")),
		)
	case kindEnumerate:
		chanType := m.results[0].(*ast.ChanType)
		itemType := g.typeCode(chanType.Value)
		f.Func().Params(recv).Id(m.name).Params(params...).Params(jen.Op("<-chan").Add(itemType), jen.Error()).Block(
			jen.List(jen.Id("handle"), jen.Id("err")).Op(":=").Id("p").Dot("conn").Dot("Enumerate").Call(
				append([]jen.Code{jen.Id("ctx"), jen.Lit(m.name)}, forward...)...,
			),
			jen.If(jen.Id("err").Op("!=").Nil()).Block(
				jen.Return(jen.Nil(), jen.Id("err")),
			),
			jen.Id("out").Op(":=").Make(jen.Op("chan").Add(itemType)),
			jen.Go().Func().Params().Block(
				jen.Defer().Close(jen.Id("out")),
				jen.For().Block(
					jen.Var().Id("item").Add(itemType),
					jen.List(jen.Id("more"), jen.Id("nextErr")).Op(":=").Id("handle").Dot("Next").Call(jen.Id("ctx"), jen.Op("&").Id("item")),
					jen.If(jen.Id("nextErr").Op("!=").Nil().Op("||").Op("!").Id("more")).Block(
						jen.Return(),
					),
					jen.Select().Block(
						jen.Case(jen.Id("out").Op("<-").Id("item")).Block(),
						jen.Case(jen.Op("<-").Id("ctx").Dot("Done").Call()).Block(
							jen.Return(),
						),
					),
				),
			).Call(),
			jen.Return(jen.Id("out"), jen.Nil()),
		)
	}
}

func isContextParam(p param) bool {
	sel, ok := p.typ.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkgIdent, ok := sel.X.(*ast.Ident)
	return ok && pkgIdent.Name == "context" && sel.Sel.Name == "Context"
}
