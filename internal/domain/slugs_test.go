package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCandidateSlugSetPrecedence(t *testing.T) {
	set := CandidatesFor(InvestorRef{Name: "a16z", URL: "https://deals.example.com/investors/a16z-crypto"})
	require.Equal(t, "a16z", set.Base())
	require.Equal(t, []string{"a16z", "a16z-crypto"}, set.Variants())

	urlOnly := CandidatesFor(InvestorRef{URL: "/investors/paradigm/"})
	require.Equal(t, "paradigm", urlOnly.Base())
	require.Equal(t, []string{"paradigm"}, urlOnly.Variants())

	same := CandidatesFor(InvestorRef{Name: "Paradigm", URL: "/investors/paradigm"})
	require.Equal(t, []string{"paradigm"}, same.Variants())

	require.True(t, CandidatesFor(InvestorRef{Name: "  "}).Empty())
}

func TestInvestorIndexLookup(t *testing.T) {
	idx := InvestorIndex{}
	idx.Bind("inv-1", "a16z", "a16z-crypto", "")

	id, ok := idx.Lookup(InvestorRef{Name: "A16z Crypto"})
	require.True(t, ok)
	require.Equal(t, "inv-1", id)

	_, ok = idx.Lookup(InvestorRef{Name: "Paradigm"})
	require.False(t, ok)
}

func TestCollectInvestorRefsDeduplicates(t *testing.T) {
	refs := CollectInvestorRefs([]DealRecord{
		{InvestorRefs: []InvestorRef{{Name: "Alpha", URL: "/i/alpha"}, {Name: "Beta"}}},
		{InvestorRefs: []InvestorRef{{Name: " Alpha ", URL: "/i/alpha"}, {Name: ""}}},
	})
	require.Equal(t, []InvestorRef{{Name: "Alpha", URL: "/i/alpha"}, {Name: "Beta"}}, refs)
}
