package scraper

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/internal/domain"
	"github.com/kapu/dealsync-go/internal/util"
	"github.com/kapu/dealsync-go/pkg/errors"
)

// Profile is what an investor profile page tells us.
type Profile struct {
	Slug        string               `json:"slug"`
	Name        string               `json:"name"`
	Logo        string               `json:"logo"`
	Description string               `json:"description"`
	Links       domain.InvestorLinks `json:"links"`
	SourceURL   string               `json:"sourceUrl"`
}

// ProfileCache is the durable cache behind the in-process one.
type ProfileCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type ProfileSelectors struct {
	Name        string
	Logo        string
	Description string
	Links       string
}

func DefaultProfileSelectors() ProfileSelectors {
	return ProfileSelectors{
		Name:        "h1",
		Logo:        ".investor-logo img, .profile-header img",
		Description: ".investor-description, .profile-description",
		Links:       ".investor-links a[href], .profile-links a[href]",
	}
}

// ProfileScraper downloads and parses investor profile pages. Results are
// cached per slug in process and, when a cache is configured, in Redis.
type ProfileScraper struct {
	client    *resty.Client
	baseURL   string
	cache     ProfileCache
	ttl       time.Duration
	selectors ProfileSelectors
	logger    *zap.Logger

	local *expirable.LRU[string, *Profile]
}

type ProfileScraperConfig struct {
	// BaseURL builds profile addresses for references without a URL: {BaseURL}/{slug}/.
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	CacheTTL  time.Duration
	// LocalSize bounds the in-process cache. Entries there expire after CacheTTL too.
	LocalSize int
	Headers   map[string]string
}

func NewProfileScraper(cfg ProfileScraperConfig, cache ProfileCache, logger *zap.Logger) *ProfileScraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.APIConfig.ProfileTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = constants.CacheTTL.InvestorProfile
	}
	size := cfg.LocalSize
	if size <= 0 {
		size = constants.CacheSize.InvestorProfiles
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgentOrDefault(cfg.UserAgent)).
		SetHeader("Accept", "text/html,application/xhtml+xml").
		SetHeaders(cfg.Headers)

	return &ProfileScraper{
		client:    client,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		cache:     cache,
		ttl:       ttl,
		selectors: DefaultProfileSelectors(),
		logger:    logger,
		local:     expirable.NewLRU[string, *Profile](size, nil, ttl),
	}
}

// ProfileURL returns where the profile of ref lives, or "" if unknown.
func (s *ProfileScraper) ProfileURL(ref domain.InvestorRef, slug string) string {
	if ref.URL != "" {
		return ref.URL
	}
	if s.baseURL == "" || slug == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/", s.baseURL, url.PathEscape(slug))
}

// Fetch returns the profile for ref, keyed by slug. It returns (nil, nil)
// when there is no page to fetch or the page does not exist.
func (s *ProfileScraper) Fetch(ctx context.Context, ref domain.InvestorRef, slug string) (*Profile, error) {
	if p, ok := s.fromLocal(slug); ok {
		return p, nil
	}

	cacheKey := constants.CacheKeys.InvestorProfilePrefix + slug
	if s.cache != nil {
		var cached Profile
		found, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			s.logger.Warn("Profile cache read failed", zap.String("slug", slug), zap.Error(err))
		} else if found {
			s.remember(slug, &cached)
			return &cached, nil
		}
	}

	pageURL := s.ProfileURL(ref, slug)
	if pageURL == "" {
		return nil, nil
	}

	res, err := s.client.R().
		SetContext(ctx).
		Get(pageURL)
	if err != nil {
		return nil, errors.NewFetchError("profile request failed", pageURL, 0, 0, ctx.Err() == nil, err)
	}

	switch status := res.StatusCode(); {
	case status == http.StatusNotFound || status == http.StatusGone:
		s.logger.Debug("Investor profile not found", zap.String("slug", slug), zap.String("url", pageURL))
		return nil, nil
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, errors.NewFetchError("profile request failed", pageURL, 0, status, true, nil)
	case status >= 400:
		return nil, errors.NewFetchError("profile request rejected", pageURL, 0, status, false, nil)
	}

	profile, err := s.parse(res.Body(), pageURL)
	if err != nil {
		return nil, err
	}
	if profile.Slug == "" {
		profile.Slug = slug
	}

	s.remember(slug, profile)
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, profile, s.ttl); err != nil {
			s.logger.Warn("Profile cache write failed", zap.String("slug", slug), zap.Error(err))
		}
	}
	return profile, nil
}

func (s *ProfileScraper) fromLocal(slug string) (*Profile, bool) {
	return s.local.Get(slug)
}

func (s *ProfileScraper) remember(slug string, p *Profile) {
	s.local.Add(slug, p)
}

func (s *ProfileScraper) parse(body []byte, pageURL string) (*Profile, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.NewParseError("failed to parse investor profile", 0, 0, err)
	}

	base, _ := url.Parse(pageURL)
	resolve := func(href string) string {
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil || href == "" {
			return ""
		}
		if base == nil {
			return ref.String()
		}
		return base.ResolveReference(ref).String()
	}

	profile := &Profile{SourceURL: pageURL}
	profile.Name = cleanText(doc.Find(s.selectors.Name).First().Text())
	if profile.Name == "" {
		profile.Name = cleanText(attr(doc.Find(`meta[property="og:title"]`).First(), "content"))
	}

	if canonical := attr(doc.Find(`link[rel="canonical"]`).First(), "href"); canonical != "" {
		profile.Slug = util.SlugFromURL(canonical)
	}

	if logo := imageSource(doc.Find(s.selectors.Logo).First()); logo != "" {
		profile.Logo = resolve(logo)
	} else if og := attr(doc.Find(`meta[property="og:image"]`).First(), "content"); og != "" {
		profile.Logo = resolve(og)
	}

	profile.Description = cleanText(doc.Find(s.selectors.Description).First().Text())
	if profile.Description == "" {
		profile.Description = cleanText(attr(doc.Find(`meta[name="description"]`).First(), "content"))
	}
	profile.Description = util.TruncateString(profile.Description, constants.StringLimits.Description)

	doc.Find(s.selectors.Links).Each(func(_ int, a *goquery.Selection) {
		categorizeLink(&profile.Links, resolve(attr(a, "href")))
	})

	return profile, nil
}

// categorizeLink files href under the matching social network, or Other.
func categorizeLink(links *domain.InvestorLinks, href string) {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	set := func(field *string) {
		if *field == "" {
			*field = href
		}
	}
	switch {
	case host == "twitter.com" || host == "x.com":
		set(&links.Twitter)
	case host == "t.me" || host == "telegram.me":
		set(&links.Telegram)
	case host == "discord.gg" || host == "discord.com":
		set(&links.Discord)
	case host == "linkedin.com" || strings.HasSuffix(host, ".linkedin.com"):
		set(&links.LinkedIn)
	case host == "github.com":
		set(&links.GitHub)
	case host == "medium.com" || strings.HasSuffix(host, ".medium.com"):
		set(&links.Medium)
	case links.Website == "":
		links.Website = href
	default:
		if !util.Contains(links.Other, href) {
			links.Other = append(links.Other, href)
		}
	}
}
