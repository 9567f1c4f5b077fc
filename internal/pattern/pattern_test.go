package pattern

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsBuiltIns(t *testing.T) {
	m := New()
	ranked := m.RelevantFor("generic task", nil)
	assert.NotEmpty(t, ranked)
	for _, s := range ranked {
		assert.True(t, s.Pattern.BuiltIn)
	}
}

func TestRecordMatchesBuiltInAndIncrementsOccurrence(t *testing.T) {
	m := New()
	m.Record("syntax error: unexpected token", "main.go", "")
	ranked := m.RelevantFor("fix the build", []string{"main.go"})

	var found *Scored
	for i := range ranked {
		if ranked[i].Pattern.Name == "syntax error" {
			found = &ranked[i]
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, 1, found.Pattern.Occurrences)
	assert.Greater(t, found.Score, 0.0)
}

func TestRecordCreatesLearnedPatternWhenNoMatch(t *testing.T) {
	m := New()
	m.Record("a wholly novel error message never seen before", "widget.go", "widgets need a Reset method")
	ranked := m.RelevantFor("modify the widget", []string{"widget.go"})

	var found *Scored
	for i := range ranked {
		if ranked[i].Pattern.Guidance == "widgets need a Reset method" {
			found = &ranked[i]
		}
	}
	require.NotNil(t, found)
	assert.False(t, found.Pattern.BuiltIn)
}

func TestRecordWithoutGuidanceAndNoMatchIsNoop(t *testing.T) {
	m := New()
	before := len(m.patterns)
	m.Record("a wholly novel error message", "widget.go", "")
	assert.Equal(t, before, len(m.patterns))
}

func TestGuidancePromptCapsAtFive(t *testing.T) {
	m := New()
	for i := 0; i < 10; i++ {
		m.Record("syntax error variant", "a.go", "")
	}
	for i := 0; i < 10; i++ {
		m.Record(fmt.Sprintf("novel failure number %d", i), "a.go", "learned guidance")
	}
	prompt := m.GuidancePrompt("fix it", []string{"a.go"})
	assert.Contains(t, prompt, "Known failure patterns to avoid")
	assert.Equal(t, 5, strings.Count(prompt, "\n- "))
}

func TestRelevantForScoresFileOverlapHigher(t *testing.T) {
	m := New()
	m.Record("patch search string not found in file", "target.go", "")

	withOverlap := m.RelevantFor("apply a patch", []string{"target.go"})
	withoutOverlap := m.RelevantFor("apply a patch", []string{"other.go"})

	scoreFor := func(scored []Scored, name string) float64 {
		for _, s := range scored {
			if s.Pattern.Name == name {
				return s.Score
			}
		}
		return -1
	}

	assert.Greater(t, scoreFor(withOverlap, "patch search string not found"), scoreFor(withoutOverlap, "patch search string not found"))
}
