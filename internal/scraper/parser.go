package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/util"
	"github.com/kapu/dealsync-go/pkg/errors"
)

// Selectors locate the parts of the listing table.
type Selectors struct {
	Table            string
	Row              string
	Rank             string
	ProjectLink      string
	ProjectName      string
	ProjectLogo      string
	Round            string
	Date             string
	Raised           string
	FDV              string
	Categories       string
	CategoryItem     string
	Investors        string
	InvestorLink     string
	IndividualMarker string
	ExpandToggle     string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Table:            "table.deals-table",
		Row:              "table.deals-table tbody tr",
		Rank:             "td.col-rank",
		ProjectLink:      "td.col-project a",
		ProjectName:      "td.col-project .project-name",
		ProjectLogo:      "td.col-project img",
		Round:            "td.col-round",
		Date:             "td.col-date",
		Raised:           "td.col-raised",
		FDV:              "td.col-fdv",
		Categories:       "td.col-category",
		CategoryItem:     "a, span.tag",
		Investors:        "td.col-investors",
		InvestorLink:     "a.investor",
		IndividualMarker: ".individual-investors",
		ExpandToggle:     "td.col-investors .show-more",
	}
}

// Parser turns listing markup into deal records.
type Parser struct {
	selectors Selectors
	baseURL   *url.URL
	logger    *zap.Logger
}

// NewParser resolves relative links against baseURL.
func NewParser(selectors Selectors, baseURL string, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		base = nil
	}
	return &Parser{selectors: selectors, baseURL: base, logger: logger}
}

// ParseDealRows returns one record per table row in document order. Rows that
// cannot be read are logged, reported in the second return value and skipped.
// A page without the table at all is a structural change and returns an error.
func (p *Parser) ParseDealRows(html string, page int) ([]domain.DealRecord, []error, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, errors.NewParseError("failed to parse listing markup", page, 0, err)
	}

	if doc.Find(p.selectors.Table).Length() == 0 {
		return nil, nil, errors.NewParseError("listing table not found; page structure may have changed", page, 0, nil)
	}

	rows := doc.Find(p.selectors.Row)
	records := make([]domain.DealRecord, 0, rows.Length())
	var rowErrs []error

	rows.Each(func(i int, row *goquery.Selection) {
		record, err := p.parseRow(row, page, i+1)
		if err != nil {
			p.logger.Warn("Skipping malformed row",
				zap.Int("page", page),
				zap.Int("row", i+1),
				zap.Error(err),
			)
			rowErrs = append(rowErrs, err)
			return
		}
		records = append(records, record)
	})

	return records, rowErrs, nil
}

func (p *Parser) parseRow(row *goquery.Selection, page, index int) (record domain.DealRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewParseError(fmt.Sprintf("row parser panic: %v", r), page, index, nil)
		}
	}()

	s := p.selectors
	link := row.Find(s.ProjectLink).First()

	name := cleanText(row.Find(s.ProjectName).First().Text())
	if name == "" {
		name = cleanText(link.Text())
	}
	if name == "" {
		return domain.DealRecord{}, errors.NewParseError("row has no project name", page, index, nil)
	}

	record = domain.DealRecord{
		Page:        page,
		Rank:        cleanText(row.Find(s.Rank).First().Text()),
		ProjectName: name,
		ProjectURL:  p.absolute(attr(link, "href")),
		LogoURL:     p.absolute(imageSource(row.Find(s.ProjectLogo).First())),
		RoundType:   cleanText(row.Find(s.Round).First().Text()),
		DateText:    cleanText(row.Find(s.Date).First().Text()),
	}

	if amount, err := ParseMoney(row.Find(s.Raised).First().Text()); err == nil {
		record.RaisedAmount = amount
	} else {
		p.logger.Debug("Unreadable raised amount", zap.Int("page", page), zap.Int("row", index), zap.Error(err))
	}
	if fdv, err := ParseMoney(row.Find(s.FDV).First().Text()); err == nil {
		record.FDV = fdv
	} else {
		p.logger.Debug("Unreadable FDV", zap.Int("page", page), zap.Int("row", index), zap.Error(err))
	}

	record.Categories = p.categories(row.Find(s.Categories).First())
	record.InvestorRefs = p.investors(row.Find(s.Investors).First())
	return record, nil
}

func (p *Parser) categories(cell *goquery.Selection) []string {
	categories := make([]string, 0)
	items := cell.Find(p.selectors.CategoryItem)
	if items.Length() > 0 {
		items.Each(func(_ int, item *goquery.Selection) {
			if text := cleanText(item.Text()); text != "" {
				categories = append(categories, text)
			}
		})
	} else {
		for _, part := range strings.Split(cell.Text(), ",") {
			if text := cleanText(part); text != "" {
				categories = append(categories, text)
			}
		}
	}
	return util.Unique(categories)
}

var moreLinkPattern = regexp.MustCompile(`^\+\s*\d+(\s+more)?$`)

func (p *Parser) investors(cell *goquery.Selection) []domain.InvestorRef {
	refs := make([]domain.InvestorRef, 0)
	seen := make(map[domain.InvestorRef]struct{})
	add := func(ref domain.InvestorRef) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}

	individuals := cell.Find(p.selectors.IndividualMarker).Length() > 0

	cell.Find(p.selectors.InvestorLink).Each(func(_ int, a *goquery.Selection) {
		name := cleanText(a.Text())
		if name == "" {
			name = cleanText(attr(a, "title"))
		}
		if name == "" || moreLinkPattern.MatchString(strings.ToLower(name)) {
			return
		}
		if strings.EqualFold(name, constants.IndividualInvestors) {
			individuals = true
			return
		}
		add(domain.InvestorRef{Name: name, URL: p.absolute(attr(a, "href"))})
	})

	if !individuals && strings.Contains(strings.ToLower(cell.Text()), "individual investors") {
		individuals = true
	}
	if individuals {
		add(domain.InvestorRef{Name: constants.IndividualInvestors})
	}
	return refs
}

func (p *Parser) absolute(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || href == "#" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if p.baseURL == nil {
		return ref.String()
	}
	return p.baseURL.ResolveReference(ref).String()
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

func imageSource(img *goquery.Selection) string {
	for _, name := range []string{"data-src", "src"} {
		if v := attr(img, name); v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	return ""
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var placeholderAmounts = map[string]struct{}{
	"": {}, "-": {}, "—": {}, "–": {}, "n/a": {}, "na": {}, "tba": {}, "undisclosed": {}, "unknown": {}, "?": {},
}

var amountSuffixes = map[string]decimal.Decimal{
	"k": decimal.NewFromInt(1_000),
	"m": decimal.NewFromInt(1_000_000),
	"b": decimal.NewFromInt(1_000_000_000),
	"t": decimal.NewFromInt(1_000_000_000_000),
}

// ParseMoney reads listing amounts like "$1.5M", "$250K", "12,000,000" or "-".
// Placeholders yield a null amount.
func ParseMoney(text string) (decimal.NullDecimal, error) {
	s := strings.ToLower(cleanText(text))
	if _, ok := placeholderAmounts[s]; ok {
		return decimal.NullDecimal{}, nil
	}

	s = strings.NewReplacer("$", "", ",", "", " ", "", "usd", "").Replace(s)
	multiplier := decimal.NewFromInt(1)
	if s != "" {
		if m, ok := amountSuffixes[s[len(s)-1:]]; ok {
			multiplier = m
			s = s[:len(s)-1]
		}
	}

	value, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid amount %q: %w", text, err)
	}
	if value.IsNegative() {
		return decimal.NullDecimal{}, fmt.Errorf("negative amount %q", text)
	}
	return decimal.NewNullDecimal(value.Mul(multiplier)), nil
}
