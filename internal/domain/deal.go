package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// InvestorRef is an investor as referenced from a listing row.
type InvestorRef struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

// DealRecord is one scraped listing row. It lives for a single cycle and is
// never stored as-is.
type DealRecord struct {
	Page         int                 `json:"page"`
	Rank         string              `json:"rank"`
	ProjectName  string              `json:"projectName"`
	ProjectURL   string              `json:"projectUrl"`
	LogoURL      string              `json:"logoUrl"`
	RoundType    string              `json:"roundType"`
	DateText     string              `json:"dateText"`
	RaisedAmount decimal.NullDecimal `json:"raisedAmount"`
	FDV          decimal.NullDecimal `json:"fdv"`
	Categories   []string            `json:"categories"`
	InvestorRefs []InvestorRef       `json:"investorRefs"`
}

// HasRound reports whether the record carries enough to identify a round.
func (r DealRecord) HasRound() bool {
	return strings.TrimSpace(r.RoundType) != "" && strings.TrimSpace(r.DateText) != ""
}

// CollectInvestorRefs flattens the investor references of records, keeping the
// first occurrence of each (name, url) pair.
func CollectInvestorRefs(records []DealRecord) []InvestorRef {
	seen := make(map[InvestorRef]struct{})
	refs := make([]InvestorRef, 0)
	for _, record := range records {
		for _, ref := range record.InvestorRefs {
			key := InvestorRef{Name: strings.TrimSpace(ref.Name), URL: strings.TrimSpace(ref.URL)}
			if key.Name == "" && key.URL == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			refs = append(refs, key)
		}
	}
	return refs
}
