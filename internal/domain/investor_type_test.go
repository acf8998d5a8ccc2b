package domain

import "testing"

func TestClassifyInvestor(t *testing.T) {
	cases := map[string]InvestorType{
		"Binance Labs":          InvestorTypeExchange,
		"Coinbase Ventures":     InvestorTypeExchange,
		"Alliance":              InvestorTypeAccelerator,
		"Y Combinator":          InvestorTypeAccelerator,
		"BitDAO":                InvestorTypeOther,
		"Flamingo DAO":          InvestorTypeDAO,
		"Pantera Capital":       InvestorTypeVC,
		"a16z":                  InvestorTypeVC,
		"Animoca Brands Group":  InvestorTypeCorporate,
		"Individual investors":  InvestorTypeAngel,
		"Balaji Srinivasan":     InvestorTypeAngel,
		"Stani Kulechov":        InvestorTypeAngel,
		"HashKey":               InvestorTypeOther,
		"":                      InvestorTypeOther,
	}
	for name, want := range cases {
		if got := ClassifyInvestor(name); got != want {
			t.Fatalf("ClassifyInvestor(%q) = %s, want %s", name, got, want)
		}
	}
}
