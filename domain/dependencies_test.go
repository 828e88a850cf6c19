package domain_test

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/frontrow-dev/bridge/"

// TestDomainHasNoOuterDependencies verifies that the domain layer only
// imports the standard library and other domain packages.
func TestDomainHasNoOuterDependencies(t *testing.T) {
	fset := token.NewFileSet()

	for _, pkg := range []string{"entities", "errors", "ports"} {
		files, err := filepath.Glob(filepath.Join(".", pkg, "*.go"))
		require.NoError(t, err, "failed to glob %s files", pkg)
		require.NotEmpty(t, files, "domain/%s should contain Go files", pkg)

		for _, file := range files {
			if strings.HasSuffix(file, "_test.go") {
				continue
			}
			checkFileImports(t, fset, file, pkg)
		}
	}
}

func checkFileImports(t *testing.T, fset *token.FileSet, filename, pkg string) {
	t.Helper()

	f, err := parser.ParseFile(fset, filename, nil, parser.ImportsOnly)
	require.NoError(t, err, "failed to parse %s", filename)

	for _, imp := range f.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)

		if strings.HasPrefix(importPath, modulePath) {
			assert.True(t, strings.HasPrefix(importPath, modulePath+"domain/"),
				"domain/%s (%s) imports non-domain package %s", pkg, filepath.Base(filename), importPath)
			continue
		}

		// Anything with a dot in its first element is a third-party module.
		first := strings.SplitN(importPath, "/", 2)[0]
		assert.NotContains(t, first, ".",
			"domain/%s (%s) must not import third-party package %s", pkg, filepath.Base(filename), importPath)
	}
}
