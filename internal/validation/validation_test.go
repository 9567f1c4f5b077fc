package validation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBoundaryRejectsPathOutsideAllowed(t *testing.T) {
	g := NewGate()
	result := g.Validate([]Change{
		{Path: "other/pkg/file.go", Kind: OpUpdate, Content: "package pkg\n"},
	}, []string{"allowed/pkg"})

	require.Len(t, result.Errors, 1)
	assert.Equal(t, CategoryBoundary, result.Errors[0].Category)
	assert.Equal(t, SeverityBlocking, result.Errors[0].Severity)
	assert.True(t, result.Blocking())
}

func TestCheckBoundaryAllowsCreateRegardlessOfPath(t *testing.T) {
	g := NewGate()
	result := g.Validate([]Change{
		{Path: "anywhere/new.go", Kind: OpCreate, Content: "package anywhere\n"},
	}, []string{"allowed/pkg"})

	for _, e := range result.Errors {
		assert.NotEqual(t, CategoryBoundary, e.Category)
	}
}

func TestValidateUpdateRejectsTestFileAlways(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget.test.go")
	require.NoError(t, os.WriteFile(path, []byte("package widget\n"), 0o644))

	g := NewGate()
	result := g.Validate([]Change{{Path: path, Kind: OpUpdate, Content: "package widget\n// changed\n"}}, nil)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, CategoryDestructive, result.Errors[0].Category)
	assert.Equal(t, SeverityBlocking, result.Errors[0].Severity)
}

func TestValidateUpdateRejectsDestructiveShrink(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.go")
	big := strings.Repeat("x\n", 150)
	require.NoError(t, os.WriteFile(path, []byte(big), 0o644))

	g := NewGate()
	result := g.Validate([]Change{{Path: path, Kind: OpUpdate, Content: "package p\n"}}, nil)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, CategoryDestructive, result.Errors[0].Category)
}

func TestValidateUpdateWarnsOnLargeFileWithoutBlocking(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "large.go")
	big := strings.Repeat("x\n", 600)
	require.NoError(t, os.WriteFile(path, []byte(big), 0o644))

	g := NewGate()
	newContent := strings.Repeat("y\n", 550)
	result := g.Validate([]Change{{Path: path, Kind: OpUpdate, Content: newContent}}, nil)

	assert.False(t, result.Blocking())
	require.NotEmpty(t, result.Warnings)
}

func TestValidatePatchMissingFileYieldsFileNotFound(t *testing.T) {
	g := NewGate()
	result := g.Validate([]Change{
		{Path: filepath.Join(t.TempDir(), "missing.go"), Kind: OpPatch, Patches: []Patch{{Search: "x", Replace: "y"}}},
	}, nil)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, CategoryFileNotFound, result.Errors[0].Category)
	assert.Equal(t, SeverityRecoverable, result.Errors[0].Severity)
}

func TestValidatePatchVerbatimMatchSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n\nfunc F() {}\n"), 0o644))

	g := NewGate()
	result := g.Validate([]Change{
		{Path: path, Kind: OpPatch, Patches: []Patch{{Search: "func F() {}", Replace: "func F() { return }"}}},
	}, nil)

	assert.Empty(t, result.Errors)
}

func TestValidatePatchNotFoundAfterFuzzyRecoveryFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a\n\nfunc Completely() { return 1 }\n"), 0o644))

	g := NewGate()
	result := g.Validate([]Change{
		{Path: path, Kind: OpPatch, Patches: []Patch{{Search: "totally unrelated content that does not exist anywhere", Replace: "x"}}},
	}, nil)

	require.Len(t, result.Errors, 1)
	assert.Equal(t, CategoryPatchNotFound, result.Errors[0].Category)
}

func TestMatchAnchorFuzzyRecoversWhitespaceDrift(t *testing.T) {
	fileText := "package a\n\nfunc Foo() {\n    return 1\n}\n"
	search := "func Foo() {\nreturn 1\n}"

	matched, rewritten, _ := MatchAnchor(fileText, search)
	require.True(t, matched)
	assert.Contains(t, rewritten, "return 1")
}

func TestValidateModulePathRejectsTraversal(t *testing.T) {
	err := ValidateModulePath("../../etc/passwd")
	assert.Error(t, err)

	err = ValidateModulePath("internal/pkg/file.go")
	assert.NoError(t, err)
}

func TestJaccardBigramIdenticalIsOne(t *testing.T) {
	assert.Equal(t, 1.0, jaccardBigram("hello world", "hello world"))
}
