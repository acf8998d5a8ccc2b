package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusActive = "active"
)

// Project is a fundraising company. Its slug is globally unique.
type Project struct {
	ID         string
	Slug       string
	Name       string
	Logo       string
	Categories []string
	Status     string
	CreatedAt  time.Time
}

// Round belongs to exactly one project. (ProjectID, Type, Date, Amount) is unique.
type Round struct {
	ID        string
	ProjectID string
	Type      string
	Date      time.Time
	Amount    decimal.NullDecimal
	CreatedAt time.Time
}

// InvestorType is derived from the investor's name.
type InvestorType string

const (
	InvestorTypeAngel       InvestorType = "Angel"
	InvestorTypeVC          InvestorType = "VC"
	InvestorTypeExchange    InvestorType = "Exchange"
	InvestorTypeAccelerator InvestorType = "Accelerator"
	InvestorTypeCorporate   InvestorType = "Corporate"
	InvestorTypeDAO         InvestorType = "DAO"
	InvestorTypeOther       InvestorType = "Other"
)

// InvestorLinks are the profile and social URLs found on an investor page.
type InvestorLinks struct {
	Website  string   `json:"website,omitempty"`
	Twitter  string   `json:"twitter,omitempty"`
	Telegram string   `json:"telegram,omitempty"`
	Discord  string   `json:"discord,omitempty"`
	LinkedIn string   `json:"linkedin,omitempty"`
	GitHub   string   `json:"github,omitempty"`
	Medium   string   `json:"medium,omitempty"`
	Profile  string   `json:"profile,omitempty"`
	Other    []string `json:"other,omitempty"`
}

// Investor is an entity that takes part in rounds. Its slug is globally unique.
type Investor struct {
	ID          string
	Slug        string
	Name        string
	Logo        string
	Links       InvestorLinks
	Type        InvestorType
	Status      string
	Description string
	CreatedAt   time.Time
}

// Investment joins a round and an investor. (RoundID, InvestorID) is unique.
type Investment struct {
	ID         string
	RoundID    string
	InvestorID string
	Amount     decimal.NullDecimal
	Currency   string
	InvestedAt time.Time
	CreatedAt  time.Time
}

// Counts is a snapshot of entity totals.
type Counts struct {
	Projects    int64
	Rounds      int64
	Investors   int64
	Investments int64
}

// Sub returns the per-entity difference c - other.
func (c Counts) Sub(other Counts) Counts {
	return Counts{
		Projects:    c.Projects - other.Projects,
		Rounds:      c.Rounds - other.Rounds,
		Investors:   c.Investors - other.Investors,
		Investments: c.Investments - other.Investments,
	}
}
