// Package pattern implements Pattern Memory: a small corpus of regexes
// matched against child-process error text, used to rank and surface
// guidance the scheduler injects into its next dispatch. Patterns are a
// YAML-tagged struct (name + regex + guidance) loaded and written back
// with yaml.v3 — a signature-to-guidance table rather than a database,
// since the corpus is small and runtime-mutable (learned patterns are
// created on the fly as the scheduler observes new failures).
package pattern

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Pattern is one recognized error signature.
type Pattern struct {
	Name        string    `yaml:"name"`
	Regex       string    `yaml:"regex"`
	Guidance    string    `yaml:"guidance"`
	BuiltIn     bool      `yaml:"builtIn"`
	Occurrences int       `yaml:"occurrences"`
	LastSeen    time.Time `yaml:"lastSeen,omitempty"`
	Files       []string  `yaml:"files,omitempty"`

	compiled *regexp.Regexp
}

// file is the on-disk shape persisted by Save/Load.
type file struct {
	Patterns []Pattern `yaml:"patterns"`
}

// Scored pairs a Pattern with its relevance score from RelevantFor.
type Scored struct {
	Pattern Pattern
	Score   float64
}

// Memory holds the merged built-in + learned pattern set.
type Memory struct {
	mu       sync.Mutex
	patterns []*Pattern
}

// builtins is the fixed set installed at startup, covering the
// recurring child-agent failure signatures worth guiding against from
// the first run.
func builtins() []*Pattern {
	defs := []struct{ name, regex, guidance string }{
		{
			"removed helper functions",
			`(?i)(removed|deleted|missing)\s+(helper\s+)?function`,
			"Do not remove existing helper functions; add new logic alongside them.",
		},
		{
			"patch search string not found",
			`(?i)(search string|anchor|context)\s+not found|could not locate`,
			"The patch's search text must match the file exactly, including whitespace. Re-read the target file before generating the patch.",
		},
		{
			"rewrote entire file instead of patching",
			`(?i)(rewrote|replaced)\s+(the\s+)?entire\s+file`,
			"Prefer small, targeted patches over whole-file rewrites; large rewrites are flagged as destructive.",
		},
		{
			"cannot find module or name",
			`(?i)(cannot find|undefined|undeclared)\s+(module|name|package|symbol)`,
			"Check that the referenced identifier is imported or defined before use.",
		},
		{
			"syntax error",
			`(?i)syntax error`,
			"Re-check bracket/paren balance and statement terminators around the edited region.",
		},
	}
	out := make([]*Pattern, 0, len(defs))
	for _, d := range defs {
		p := &Pattern{Name: d.name, Regex: d.regex, Guidance: d.guidance, BuiltIn: true}
		p.compiled = regexp.MustCompile(d.regex)
		out = append(out, p)
	}
	return out
}

// New returns a Memory seeded with the built-in patterns only.
func New() *Memory {
	return &Memory{patterns: builtins()}
}

// Load seeds Memory with built-ins, then merges learned patterns
// persisted at path on top, keyed by name. When both a built-in and a
// learned entry share a name, the learned entry's occurrence count and
// last-seen timestamp win (the disk copy reflects everything observed
// across process restarts).
func Load(path string) (*Memory, error) {
	m := New()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("read pattern file %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse pattern file %s: %w", path, err)
	}

	byName := make(map[string]*Pattern, len(m.patterns))
	for _, p := range m.patterns {
		byName[p.Name] = p
	}

	for i := range f.Patterns {
		learned := f.Patterns[i]
		compiled, err := regexp.Compile(learned.Regex)
		if err != nil {
			continue
		}
		learned.compiled = compiled
		if existing, ok := byName[learned.Name]; ok {
			existing.Occurrences = learned.Occurrences
			existing.LastSeen = learned.LastSeen
			existing.Files = unionFiles(existing.Files, learned.Files)
			continue
		}
		p := learned
		m.patterns = append(m.patterns, &p)
	}

	return m, nil
}

// Save persists the full pattern set (built-in and learned) to path.
func (m *Memory) Save(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := file{Patterns: make([]Pattern, 0, len(m.patterns))}
	for _, p := range m.patterns {
		f.Patterns = append(f.Patterns, *p)
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal pattern file: %w", err)
	}
	return renameio.WriteFile(path, data, 0o644)
}

// Record finds the first pattern whose regex matches errorText. If
// matched, it increments the occurrence count, updates LastSeen, and
// unions file into the pattern's file set. If nothing matches and
// guidance is non-empty, a new learned pattern is created whose regex
// body is the first 100 characters of errorText with metacharacters
// escaped.
func (m *Memory) Record(errorText, file string, guidance string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.patterns {
		if p.compiled == nil {
			continue
		}
		if p.compiled.MatchString(errorText) {
			p.Occurrences++
			p.LastSeen = time.Now()
			if file != "" {
				p.Files = unionFiles(p.Files, []string{file})
			}
			return
		}
	}

	if guidance == "" {
		return
	}

	snippet := errorText
	if len(snippet) > 100 {
		snippet = snippet[:100]
	}
	regexBody := escapeRegex(snippet)
	compiled, err := regexp.Compile(regexBody)
	if err != nil {
		return
	}

	files := []string(nil)
	if file != "" {
		files = []string{file}
	}
	p := &Pattern{
		Name:        "learned:" + snippet,
		Regex:       regexBody,
		Guidance:    guidance,
		Occurrences: 1,
		LastSeen:    time.Now(),
		Files:       files,
		compiled:    compiled,
	}
	m.patterns = append(m.patterns, p)
}

// taskTestKeywords and taskModifyKeywords drive the keyword-affinity term
// in RelevantFor's scoring.
var taskTestKeywords = []string{"test", "spec", "assert", "coverage"}
var taskModifyKeywords = []string{"patch", "modify", "update", "edit", "refactor"}

// RelevantFor scores every pattern against task and targetFiles and
// returns them in descending score order. Built-in patterns are always
// included, even at score 0; learned patterns are included only when
// their score is positive.
func (m *Memory) RelevantFor(taskText string, targetFiles []string) []Scored {
	m.mu.Lock()
	defer m.mu.Unlock()

	taskLower := strings.ToLower(taskText)
	isTestTask := containsAny(taskLower, taskTestKeywords)
	isModifyTask := containsAny(taskLower, taskModifyKeywords)

	baseNames := make(map[string]struct{}, len(targetFiles))
	for _, f := range targetFiles {
		baseNames[basename(f)] = struct{}{}
	}

	out := make([]Scored, 0, len(m.patterns))
	for _, p := range m.patterns {
		score := 0.0

		occBonus := 0.1 * float64(p.Occurrences)
		if occBonus > 0.3 {
			occBonus = 0.3
		}
		score += occBonus

		for _, f := range p.Files {
			if _, ok := baseNames[basename(f)]; ok {
				score += 0.3
				break
			}
		}

		if isTestTask && isTestOrHelperPattern(p.Name) {
			score += 0.2
		}
		if isModifyTask && isPatchPattern(p.Name) {
			score += 0.2
		}

		if !p.BuiltIn && score <= 0 {
			continue
		}
		out = append(out, Scored{Pattern: *p, Score: score})
	}

	sortScoredDescending(out)
	return out
}

// GuidancePrompt concatenates the top 5 ranked patterns' guidance into a
// structured fragment suitable for injection into the child's system
// prompt.
func (m *Memory) GuidancePrompt(taskText string, targetFiles []string) string {
	ranked := m.RelevantFor(taskText, targetFiles)
	if len(ranked) > 5 {
		ranked = ranked[:5]
	}

	var b strings.Builder
	b.WriteString("Known failure patterns to avoid:\n")
	for _, s := range ranked {
		if s.Pattern.Guidance == "" {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", s.Pattern.Name, s.Pattern.Guidance)
	}
	return b.String()
}

func isTestOrHelperPattern(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "helper") || strings.Contains(lower, "test")
}

func isPatchPattern(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "patch") || strings.Contains(lower, "rewrote")
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func basename(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func unionFiles(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := append([]string(nil), a...)
	for _, f := range a {
		seen[f] = struct{}{}
	}
	for _, f := range b {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func sortScoredDescending(s []Scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].Score > s[j-1].Score; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// escapeRegex escapes regex metacharacters in s so it can be used as a
// literal-match pattern.
func escapeRegex(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\', '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
