// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dnsmatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDomainLabelBoundary(t *testing.T) {
	m, err := Build([]Entry[string]{
		{Kind: KindDomain, Pattern: "ab.com", Value: "matched"},
	})
	require.NoError(t, err)

	_, ok := m.Match("zab.com")
	require.False(t, ok, "zab.com must not match domain:ab.com")

	v, ok := m.Match("ab.com")
	require.True(t, ok)
	require.Equal(t, "matched", v)

	v, ok = m.Match("x.ab.com")
	require.True(t, ok)
	require.Equal(t, "matched", v)
}

func TestDomainLongerRuleWins(t *testing.T) {
	m, err := Build([]Entry[string]{
		{Kind: KindDomain, Pattern: "com", Value: "short"},
		{Kind: KindDomain, Pattern: "ab.com", Value: "long"},
	})
	require.NoError(t, err)

	v, ok := m.Match("x.ab.com")
	require.True(t, ok)
	require.Equal(t, "long", v, "the longer, more specific suffix rule must win")
}

func TestEvaluationOrderFullBeatsDomain(t *testing.T) {
	m, err := Build([]Entry[string]{
		{Kind: KindDomain, Pattern: "ab.com", Value: "domain"},
		{Kind: KindFull, Pattern: "x.ab.com", Value: "full"},
	})
	require.NoError(t, err)

	v, ok := m.Match("x.ab.com")
	require.True(t, ok)
	require.Equal(t, "full", v)
}

func TestPlainSubstringMatch(t *testing.T) {
	m, err := Build([]Entry[string]{
		{Kind: KindPlain, Pattern: "ads", Value: "blocked"},
	})
	require.NoError(t, err)

	v, ok := m.Match("trackads.example.com")
	require.True(t, ok)
	require.Equal(t, "blocked", v)

	_, ok = m.Match("example.com")
	require.False(t, ok)
}

func TestRegexMatch(t *testing.T) {
	m, err := Build([]Entry[string]{
		{Kind: KindRegex, Pattern: `^ad[0-9]+\.example\.com$`, Value: "blocked"},
	})
	require.NoError(t, err)

	v, ok := m.Match("ad7.example.com")
	require.True(t, ok)
	require.Equal(t, "blocked", v)
}

func TestTrailingDotStrippedAndCaseInsensitive(t *testing.T) {
	m, err := Build([]Entry[string]{
		{Kind: KindFull, Pattern: "Example.COM", Value: "matched"},
	})
	require.NoError(t, err)

	v, ok := m.Match("example.com.")
	require.True(t, ok)
	require.Equal(t, "matched", v)
}

func TestNoMatch(t *testing.T) {
	m, err := Build([]Entry[string]{
		{Kind: KindFull, Pattern: "example.com", Value: "matched"},
	})
	require.NoError(t, err)

	_, ok := m.Match("other.com")
	require.False(t, ok)
}
