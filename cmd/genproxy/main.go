// Command genproxy generates a typed client proxy for a hub: given a Go
// interface whose methods name hub targets, it emits a struct wrapping
// *signalr.HubConnection with one generated method per interface method,
// calling Invoke, Send, or Enumerate depending on the method's return
// signature. It is meant to be run via a go:generate directive next to the
// interface declaration.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"strconv"
	"strings"
)

func main() {
	var (
		src       = flag.String("src", "", "Go source file declaring the proxy interface (required)")
		ifaceName = flag.String("interface", "", "name of the interface to generate a proxy for (required)")
		out       = flag.String("out", "", "output file (default: <interface, lowercased>_proxy.go next to -src)")
		pkgName   = flag.String("package", "", "package name for the generated file (default: the source file's package)")
		typeName  = flag.String("type", "", "generated struct type name (default: <Interface>Proxy)")
	)
	flag.Parse()

	if *src == "" || *ifaceName == "" {
		fmt.Fprintln(os.Stderr, "genproxy: -src and -interface are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*src, *ifaceName, *out, *pkgName, *typeName); err != nil {
		fmt.Fprintln(os.Stderr, "genproxy:", err)
		os.Exit(1)
	}
}

func run(src, ifaceName, out, pkgName, typeName string) error {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, src, nil, parser.AllErrors)
	if err != nil {
		return fmt.Errorf("parse %s: %w", src, err)
	}

	if pkgName == "" {
		pkgName = file.Name.Name
	}
	if typeName == "" {
		typeName = ifaceName + "Proxy"
	}
	if out == "" {
		out = defaultOutPath(src, ifaceName)
	}

	g := newGenerator(ifaceName, importAliases(file))
	ast.Walk(g, file)
	if !g.found {
		return fmt.Errorf("interface %q not found in %s", ifaceName, src)
	}

	generated, err := g.generateProxy(pkgName, typeName)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := generated.Render(&buf); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	return nil
}

func defaultOutPath(src, ifaceName string) string {
	dir := src[:strings.LastIndex(src, "/")+1]
	return dir + strings.ToLower(ifaceName) + "_proxy.go"
}

// importAliases maps every import's local package name to its import path,
// so generated field/parameter types that reference another package
// (context.Context, time.Duration, ...) can be reproduced with the right
// qualifier instead of guessing from the selector alone.
func importAliases(file *ast.File) map[string]string {
	aliases := make(map[string]string, len(file.Imports))
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		name := imp.Name
		if name != nil {
			aliases[name.Name] = path
			continue
		}
		if i := strings.LastIndex(path, "/"); i >= 0 {
			aliases[path[i+1:]] = path
		} else {
			aliases[path] = path
		}
	}
	return aliases
}
