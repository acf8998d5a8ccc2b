package domain

import (
	"regexp"
	"strings"
)

var investorTypeRules = []struct {
	kind    InvestorType
	pattern *regexp.Regexp
}{
	{InvestorTypeExchange, regexp.MustCompile(`\b(exchange|binance|coinbase|okx|kucoin|bybit|kraken|gate\.io|bitget|huobi|htx|crypto\.com|mexc|upbit)\b`)},
	{InvestorTypeAccelerator, regexp.MustCompile(`\b(accelerator|incubator|launchpad|y combinator|techstars|alliance|outlier|labs? accelerator)\b`)},
	{InvestorTypeDAO, regexp.MustCompile(`\b(dao|collective|syndicate|guild)\b`)},
	{InvestorTypeVC, regexp.MustCompile(`\b(ventures?|capital|partners|fund|vc|investments?|holdings|asset management|a16z|paradigm|sequoia)\b`)},
	{InvestorTypeCorporate, regexp.MustCompile(`\b(inc|corp|corporation|group|ltd|llc|gmbh|co\.?|foundation|labs|technologies)\b`)},
}

// ClassifyInvestor guesses an investor's type from its display name. Names
// that look like a person ("Jane Doe", two or three capitalised words and no
// organisation keyword) are Angels.
func ClassifyInvestor(name string) InvestorType {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" {
		return InvestorTypeOther
	}
	if strings.Contains(lower, "individual") || strings.Contains(lower, "angel") {
		return InvestorTypeAngel
	}
	for _, rule := range investorTypeRules {
		if rule.pattern.MatchString(lower) {
			return rule.kind
		}
	}
	if looksLikePerson(name) {
		return InvestorTypeAngel
	}
	return InvestorTypeOther
}

func looksLikePerson(name string) bool {
	words := strings.Fields(name)
	if len(words) < 2 || len(words) > 3 {
		return false
	}
	for _, w := range words {
		r := []rune(w)
		if len(r) < 2 || r[0] < 'A' || r[0] > 'Z' {
			return false
		}
		for _, c := range r[1:] {
			if !(c >= 'a' && c <= 'z') && c != '-' && c != '\'' && c != '.' {
				return false
			}
		}
	}
	return true
}
