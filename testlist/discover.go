package testlist

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/modfile"
)

// packageDir resolves an import path (or a ./relative path) to a directory
// below workDir using the module declared in workDir/go.mod
func packageDir(pkgPath, workDir string) (string, error) {
	if strings.HasPrefix(pkgPath, "./") || pkgPath == "." {
		return filepath.Join(workDir, pkgPath), nil
	}

	goModPath := filepath.Join(workDir, "go.mod")
	content, err := os.ReadFile(goModPath)
	if err != nil {
		return "", fmt.Errorf("failed to find go.mod: %w", err)
	}
	mod, err := modfile.Parse(goModPath, content, nil)
	if err != nil {
		return "", fmt.Errorf("failed to parse go.mod: %w", err)
	}
	if mod.Module == nil || mod.Module.Mod.Path == "" {
		return "", fmt.Errorf("could not find module name in %s", goModPath)
	}

	modulePath := mod.Module.Mod.Path
	switch {
	case pkgPath == modulePath:
		return workDir, nil
	case strings.HasPrefix(pkgPath, modulePath+"/"):
		return filepath.Join(workDir, filepath.FromSlash(strings.TrimPrefix(pkgPath, modulePath+"/"))), nil
	default:
		return "", fmt.Errorf("package %s is not in module %s", pkgPath, modulePath)
	}
}

// FindTestFunctions returns the names of the top-level Test functions of a
// package, TestMain excluded
func FindTestFunctions(pkgPath string, workDir string) ([]string, error) {
	dir, err := packageDir(pkgPath, workDir)
	if err != nil {
		return nil, err
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read package directory: %w", err)
	}

	var names []string
	fset := token.NewFileSet()
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, file.Name()), nil, parser.SkipObjectResolution)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file.Name(), err)
		}
		for _, decl := range f.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || fn.Recv != nil {
				continue
			}
			if name := fn.Name.Name; strings.HasPrefix(name, "Test") && name != "TestMain" {
				names = append(names, name)
			}
		}
	}
	return names, nil
}
