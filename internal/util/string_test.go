package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"ProjectA":               "project-a",
		"a16z":                   "a16z",
		"a16z crypto":            "a16z-crypto",
		"Animoca Brands":         "animoca-brands",
		"  Coinbase Ventures!! ": "coinbase-ventures",
		"Crédit Agricole":        "credit-agricole",
		"O'Leary Fund":           "oleary-fund",
		"---":                    "",
	}
	for in, want := range cases {
		require.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}

func TestSlugFromURL(t *testing.T) {
	require.Equal(t, "a16z-crypto", SlugFromURL("https://example.com/investors/a16z-crypto/"))
	require.Equal(t, "paradigm", SlugFromURL("/investors/paradigm"))
	require.Equal(t, "", SlugFromURL(""))
	require.Equal(t, "", SlugFromURL("https://example.com/"))
}

func TestSuffixSlug(t *testing.T) {
	require.Equal(t, "alpha", SuffixSlug("alpha", 1))
	require.Equal(t, "alpha-3", SuffixSlug("alpha", 3))
}

func TestNormalizeKey(t *testing.T) {
	require.Equal(t, NormalizeKey("Animoca Brands"), NormalizeKey("animoca-brands"))
}
