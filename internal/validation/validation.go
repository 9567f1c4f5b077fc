// Package validation implements the Validation Gate: a pre-apply filter
// over a proposed change-set. Each check returns a classified result
// with category, severity, and an optional recovery suggestion,
// collapsed into a single Gate that validates a whole change-set at
// once rather than dispatching per-action-type.
package validation

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/module"

	"github.com/jienckebd/devloop/internal/diff"
)

// OperationKind is the kind of file operation a change-set entry performs.
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpPatch  OperationKind = "patch"
	OpDelete OperationKind = "delete"
)

// Patch is one search/replace pair within a patch operation.
type Patch struct {
	Search  string
	Replace string
}

// Change is a single file operation proposed by the child.
type Change struct {
	Path    string
	Kind    OperationKind
	Content string  // full content, for create/update
	Patches []Patch // ordered search/replace pairs, for patch
}

// Category classifies a validation error.
type Category string

const (
	CategoryBoundary       Category = "boundary"
	CategoryDestructive    Category = "destructive"
	CategoryFileNotFound   Category = "file_not_found"
	CategoryPatchNotFound  Category = "patch_not_found"
	CategorySyntax         Category = "syntax"
)

// Severity is whether an error blocks the change-set or is recoverable.
type Severity string

const (
	SeverityBlocking    Severity = "blocking"
	SeverityRecoverable Severity = "recoverable"
)

// RecoveryAction names the kind of follow-up a recovery suggestion asks
// for.
type RecoveryAction string

const (
	RecoveryFix    RecoveryAction = "fix"
	RecoveryRetry  RecoveryAction = "retry"
	RecoverySkip   RecoveryAction = "skip"
	RecoveryManual RecoveryAction = "manual"
)

// Recovery is the structured suggestion attached to every error.
type Recovery struct {
	Action      RecoveryAction
	Description string
	CodeSample  string
	Reference   string
}

// Error is one classified validation error.
type Error struct {
	Category Category
	Severity Severity
	Path     string
	Message  string
	Recovery Recovery
}

// Warning is a non-blocking observation (e.g. large file updates).
type Warning struct {
	Path    string
	Message string
}

// Result is the Gate's output for one change-set.
type Result struct {
	Errors   []Error
	Warnings []Warning
}

// Blocking reports whether any error in the result is blocking.
func (r Result) Blocking() bool {
	for _, e := range r.Errors {
		if e.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// ExternalSyntaxChecker delegates a syntax check to an out-of-process
// compiler (e.g. `go build`, `tsc --noEmit`) for file types the built-in
// regex/AST heuristics can't cover well. Errors other than
// import-resolution failures are treated as blocking.
type ExternalSyntaxChecker func(path, content string) ([]string, error)

// Gate validates change-sets against module boundaries and content
// rules.
type Gate struct {
	externalChecker ExternalSyntaxChecker
	histogram       map[string]int
}

// Option configures a Gate.
type Option func(*Gate)

// WithExternalSyntaxChecker installs a delegate used for file extensions
// the built-in heuristics don't parse (anything but .go).
func WithExternalSyntaxChecker(checker ExternalSyntaxChecker) Option {
	return func(g *Gate) { g.externalChecker = checker }
}

// NewGate creates a Gate ready to validate change-sets.
func NewGate(opts ...Option) *Gate {
	g := &Gate{histogram: make(map[string]int)}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks every change in changes against allowedPaths (the
// module boundary, nil/empty meaning "no restriction") and content
// rules, returning a Result with classified errors and warnings.
func (g *Gate) Validate(changes []Change, allowedPaths []string) Result {
	var result Result

	for i := range changes {
		c := &changes[i]

		if err, ok := g.checkBoundary(*c, allowedPaths); ok {
			result.Errors = append(result.Errors, err)
			continue
		}

		switch c.Kind {
		case OpPatch:
			g.validatePatch(c, &result)
		case OpUpdate:
			g.validateUpdate(*c, &result)
		case OpCreate:
			g.validateSyntax(c.Path, c.Content, &result)
		}
	}

	return result
}

// checkBoundary implements the *boundary* category: a non-create
// operation whose path is neither equal to, nor under the directory of,
// nor sharing a basename with, any allowed entry is rejected.
func (g *Gate) checkBoundary(c Change, allowedPaths []string) (Error, bool) {
	if len(allowedPaths) == 0 || c.Kind == OpCreate {
		return Error{}, false
	}

	clean := filepath.Clean(c.Path)
	for _, allowed := range allowedPaths {
		a := filepath.Clean(allowed)
		if clean == a {
			return Error{}, false
		}
		if strings.HasPrefix(clean, a+string(filepath.Separator)) {
			return Error{}, false
		}
		if filepath.Base(clean) == filepath.Base(a) {
			return Error{}, false
		}
	}

	g.bump(CategoryBoundary, c.Path)
	return Error{
		Category: CategoryBoundary,
		Severity: SeverityBlocking,
		Path:     c.Path,
		Message:  fmt.Sprintf("%s is outside the allowed module boundary", c.Path),
		Recovery: Recovery{
			Action:      RecoveryManual,
			Description: "Target a path under one of the allowed directories, or add this path to the allowed set.",
		},
	}, true
}

// validatePatch applies anchor matching to every patch in c, rewriting
// c.Patches[i].Search in place when fuzzy recovery succeeds, and
// appending file_not_found / patch_not_found errors as needed.
func (g *Gate) validatePatch(c *Change, result *Result) {
	content, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			g.bump(CategoryFileNotFound, c.Path)
			result.Errors = append(result.Errors, Error{
				Category: CategoryFileNotFound,
				Severity: SeverityRecoverable,
				Path:     c.Path,
				Message:  fmt.Sprintf("patch target %s does not exist", c.Path),
				Recovery: Recovery{
					Action:      RecoveryFix,
					Description: "Use a create operation instead of patch for a file that doesn't exist yet.",
				},
			})
			return
		}
		result.Errors = append(result.Errors, Error{
			Category: CategoryFileNotFound,
			Severity: SeverityRecoverable,
			Path:     c.Path,
			Message:  err.Error(),
		})
		return
	}

	fileText := string(content)
	for i := range c.Patches {
		matched, newSearch, excerpt := MatchAnchor(fileText, c.Patches[i].Search)
		if matched {
			c.Patches[i].Search = newSearch
			continue
		}
		g.bump(CategoryPatchNotFound, c.Path)
		msg := fmt.Sprintf("search text not found in %s", c.Path)
		if excerpt != "" {
			msg += "; " + excerpt
		}
		result.Errors = append(result.Errors, Error{
			Category: CategoryPatchNotFound,
			Severity: SeverityRecoverable,
			Path:     c.Path,
			Message:  msg,
			Recovery: Recovery{
				Action:      RecoveryRetry,
				Description: "Re-read the file and regenerate the patch's search text to match it exactly.",
			},
		})
	}
}

// validateUpdate implements the destructive-update and test-file rules.
func (g *Gate) validateUpdate(c Change, result *Result) {
	if strings.Contains(c.Path, ".spec.") || strings.Contains(c.Path, ".test.") {
		g.bump(CategoryDestructive, c.Path)
		result.Errors = append(result.Errors, Error{
			Category: CategoryDestructive,
			Severity: SeverityBlocking,
			Path:     c.Path,
			Message:  fmt.Sprintf("update to test file %s is always rejected as destructive", c.Path),
			Recovery: Recovery{
				Action:      RecoveryManual,
				Description: "Use patch operations for test files instead of replacing them wholesale.",
			},
		})
		return
	}

	existing, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			g.validateSyntax(c.Path, c.Content, result)
			return
		}
		result.Errors = append(result.Errors, Error{Category: CategoryFileNotFound, Severity: SeverityRecoverable, Path: c.Path, Message: err.Error()})
		return
	}

	existingLines := diff.LineCount(string(existing))
	newLines := diff.LineCount(c.Content)

	if diff.IsDestructiveUpdate(existingLines, newLines) {
		g.bump(CategoryDestructive, c.Path)
		result.Errors = append(result.Errors, Error{
			Category: CategoryDestructive,
			Severity: SeverityBlocking,
			Path:     c.Path,
			Message:  fmt.Sprintf("%s: new content (%d lines) is less than half the existing %d lines", c.Path, newLines, existingLines),
			Recovery: Recovery{
				Action:      RecoveryManual,
				Description: "Use a patch operation to make a targeted change instead of replacing the whole file.",
			},
		})
		return
	}

	if diff.IsLargeFile(existingLines) {
		result.Warnings = append(result.Warnings, Warning{
			Path:    c.Path,
			Message: fmt.Sprintf("%s is a large file (%d lines); consider a patch instead of a full update", c.Path, existingLines),
		})
	}

	g.validateSyntax(c.Path, c.Content, result)
}

// validateSyntax applies the *syntax* category: regex/AST heuristics for
// Go content, and optional delegation to an external compiler for
// everything else.
func (g *Gate) validateSyntax(path, content string, result *Result) {
	if content == "" {
		return
	}
	ext := strings.ToLower(filepath.Ext(path))

	if ext == ".go" {
		if msg, bad := checkGoHeuristics(content); bad {
			g.bump(CategorySyntax, path)
			result.Errors = append(result.Errors, Error{
				Category: CategorySyntax,
				Severity: SeverityRecoverable,
				Path:     path,
				Message:  msg,
				Recovery: Recovery{
					Action:      RecoveryFix,
					Description: "Re-check bracket/paren balance and remove anonymous function literals where a named helper is expected.",
				},
			})
		}
		return
	}

	if g.externalChecker == nil {
		return
	}
	issues, err := g.externalChecker(path, content)
	if err != nil {
		return
	}
	for _, issue := range issues {
		if strings.Contains(strings.ToLower(issue), "cannot find package") ||
			strings.Contains(strings.ToLower(issue), "import") {
			continue // import-resolution failures are not blocking here
		}
		g.bump(CategorySyntax, path)
		result.Errors = append(result.Errors, Error{
			Category: CategorySyntax,
			Severity: SeverityBlocking,
			Path:     path,
			Message:  issue,
			Recovery: Recovery{Action: RecoveryManual, Description: "External compiler reported an error; inspect and fix manually."},
		})
	}
}

// checkGoHeuristics runs the regex-based syntax screen over Go source:
// it first tries go/parser (the most precise signal available without
// full type-checking), then falls back to cheap regex heuristics
// (anonymous function(, apparent triple-close braces, mismatched brace
// counts) for content that isn't even a parseable fragment.
func checkGoHeuristics(content string) (string, bool) {
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, "", "package p\n"+content, parser.AllErrors); err == nil {
		return "", false
	}

	if strings.Contains(content, "function(") {
		return "found JavaScript-style anonymous function literal in Go source", true
	}
	if strings.Contains(content, "}}}") {
		return "suspicious triple-closing-brace sequence", true
	}
	if strings.Count(content, "{") != strings.Count(content, "}") {
		return "mismatched brace count", true
	}
	return "", false
}

// ValidateModulePath is a pre-check run before boundary checking proper:
// it rejects paths that escape their own tree via ".." segments, then
// runs golang.org/x/mod/module's file-path safety checker (reserved
// Windows device names, control characters, empty elements) over the
// path with any leading path separator stripped, since a change-set's
// target may be handed to the Gate either as a repo-relative path or as
// an already-resolved filesystem path (as tests do via t.TempDir()) —
// only ".." traversal within that path is actually unsafe either way.
func ValidateModulePath(path string) error {
	slashed := filepath.ToSlash(path)
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return fmt.Errorf("%s must not contain '..' path segments", path)
		}
	}
	trimmed := strings.TrimPrefix(slashed, "/")
	if trimmed == "" {
		return fmt.Errorf("%s is empty", path)
	}
	return module.CheckFilePath(trimmed)
}

func (g *Gate) bump(cat Category, path string) {
	key := string(cat) + ":" + strings.TrimPrefix(filepath.Ext(path), ".")
	g.histogram[key]++
}

// Histogram returns a snapshot of the error histogram, keyed by
// "{category}:{file-extension}".
func (g *Gate) Histogram() map[string]int {
	out := make(map[string]int, len(g.histogram))
	for k, v := range g.histogram {
		out[k] = v
	}
	return out
}
