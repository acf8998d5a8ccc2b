package domain

import (
	"strings"

	"github.com/kapu/dealsync-go/internal/util"
)

// CandidateSlugSet holds the slugs an investor reference may be known by.
// The name-derived slug takes precedence over the URL-derived one.
type CandidateSlugSet struct {
	FromName string
	FromURL  string
}

// CandidatesFor computes the candidate slugs of ref.
func CandidatesFor(ref InvestorRef) CandidateSlugSet {
	return CandidateSlugSet{
		FromName: util.Slugify(ref.Name),
		FromURL:  util.SlugFromURL(ref.URL),
	}
}

// Base is the slug a newly created investor is given, before collision suffixes.
func (c CandidateSlugSet) Base() string {
	if c.FromName != "" {
		return c.FromName
	}
	return c.FromURL
}

// Variants lists the distinct non-empty candidates in precedence order.
func (c CandidateSlugSet) Variants() []string {
	variants := make([]string, 0, 2)
	for _, v := range []string{c.FromName, c.FromURL} {
		if v != "" && !util.Contains(variants, v) {
			variants = append(variants, v)
		}
	}
	return variants
}

// Empty reports whether no slug could be derived at all.
func (c CandidateSlugSet) Empty() bool {
	return c.FromName == "" && c.FromURL == ""
}

// InvestorIndex maps every known slug variant to an investor id.
type InvestorIndex map[string]string

// Lookup returns the investor id for ref, trying its variants in precedence order.
func (idx InvestorIndex) Lookup(ref InvestorRef) (string, bool) {
	for _, v := range CandidatesFor(ref).Variants() {
		if id, ok := idx[v]; ok {
			return id, true
		}
	}
	return "", false
}

// Bind maps each slug to id.
func (idx InvestorIndex) Bind(id string, slugs ...string) {
	for _, s := range slugs {
		if s = strings.TrimSpace(s); s != "" {
			idx[s] = id
		}
	}
}
