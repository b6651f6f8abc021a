// Package noosexit defines an analyzer that keeps process termination in one
// place. main.main must not call os.Exit, since it skips the deferred logger
// sync and storage close. Library packages must not terminate the process at
// all: neither os.Exit nor log.Fatal*, they return errors instead.
package noosexit

import (
	"go/ast"
	"go/types"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/analysis"
)

var Analyzer = &analysis.Analyzer{
	Name: "noosexit",
	Doc:  "prohibits os.Exit in main.main and process termination in non-main packages",
	Run:  run,
}

var fatalLogFuncs = map[string]bool{
	"Fatal":   true,
	"Fatalf":  true,
	"Fatalln": true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	isMainPkg := pass.Pkg.Name() == "main"

	for _, file := range pass.Files {
		// Exclude go-build cache files
		filename := pass.Fset.File(file.Pos()).Name()
		if isGoBuildCacheFile(filename) || strings.HasSuffix(filename, "_test.go") {
			continue
		}

		for _, decl := range file.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Body == nil {
				continue
			}

			isMainFunc := isMainPkg && fn.Name.Name == "main" && fn.Recv == nil
			if isMainPkg && !isMainFunc {
				continue
			}

			ast.Inspect(fn.Body, func(n ast.Node) bool {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return true
				}

				pkgPath, name, ok := calledPackageFunc(pass, call)
				if !ok {
					return true
				}

				switch {
				case pkgPath == "os" && name == "Exit" && isMainFunc:
					pass.Reportf(call.Pos(), "avoid using os.Exit in main.main")
				case pkgPath == "os" && name == "Exit":
					pass.Reportf(call.Pos(), "os.Exit outside package main: return an error instead")
				case pkgPath == "log" && fatalLogFuncs[name] && !isMainPkg:
					pass.Reportf(call.Pos(), "log.%s outside package main: return an error instead", name)
				}

				return true
			})
		}
	}
	return nil, nil
}

// calledPackageFunc resolves pkg.Func(...) calls through the type info, so
// renamed imports are recognised too.
func calledPackageFunc(pass *analysis.Pass, call *ast.CallExpr) (string, string, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return "", "", false
	}

	ident, ok := sel.X.(*ast.Ident)
	if !ok {
		return "", "", false
	}

	pkgName, ok := pass.TypesInfo.Uses[ident].(*types.PkgName)
	if !ok {
		return "", "", false
	}

	return pkgName.Imported().Path(), sel.Sel.Name, true
}

func isGoBuildCacheFile(path string) bool {
	path = filepath.ToSlash(path)
	return strings.Contains(path, "/go-build/") || strings.Contains(path, `\go-build\`)
}
