package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kapu/dealsync-go/internal/domain"
)

const profileHTML = `<!DOCTYPE html>
<html><head>
<link rel="canonical" href="/investors/a16z-crypto/">
<meta name="description" content="fallback">
</head><body>
<div class="profile-header"><img src="/img/a16z.png"><h1> a16z   crypto </h1></div>
<div class="investor-description">Backs crypto founders.</div>
<div class="investor-links">
  <a href="https://a16zcrypto.com">Website</a>
  <a href="https://x.com/a16zcrypto">X</a>
  <a href="https://www.linkedin.com/company/a16z">LinkedIn</a>
  <a href="https://github.com/a16z">GitHub</a>
  <a href="https://podcast.example.com">Podcast</a>
  <a href="mailto:hi@a16z.com">Mail</a>
</div>
</body></html>`

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) Get(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func TestProfileScraperParsesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/investors/a16z-crypto/":
			fmt.Fprint(w, profileHTML)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cache := &mapCache{data: make(map[string][]byte)}
	s := NewProfileScraper(ProfileScraperConfig{BaseURL: srv.URL + "/investors"}, cache, nil)
	ctx := context.Background()

	ref := domain.InvestorRef{Name: "a16z", URL: srv.URL + "/investors/a16z-crypto/"}
	p, err := s.Fetch(ctx, ref, "a16z")
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Equal(t, "a16z crypto", p.Name)
	require.Equal(t, "a16z-crypto", p.Slug)
	require.Equal(t, srv.URL+"/img/a16z.png", p.Logo)
	require.Equal(t, "Backs crypto founders.", p.Description)
	require.Equal(t, "https://a16zcrypto.com", p.Links.Website)
	require.Equal(t, "https://x.com/a16zcrypto", p.Links.Twitter)
	require.Equal(t, "https://www.linkedin.com/company/a16z", p.Links.LinkedIn)
	require.Equal(t, "https://github.com/a16z", p.Links.GitHub)
	require.Equal(t, []string{"https://podcast.example.com"}, p.Links.Other)

	_, err = s.Fetch(ctx, ref, "a16z")
	require.NoError(t, err)
	require.EqualValues(t, 1, hits.Load(), "second fetch should come from the in-process cache")

	fresh := NewProfileScraper(ProfileScraperConfig{BaseURL: srv.URL + "/investors"}, cache, nil)
	p, err = fresh.Fetch(ctx, ref, "a16z")
	require.NoError(t, err)
	require.Equal(t, "a16z crypto", p.Name)
	require.EqualValues(t, 1, hits.Load(), "new scraper should read the durable cache")
}

func TestProfileScraperMissingAndFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/investors/broken/" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := NewProfileScraper(ProfileScraperConfig{BaseURL: srv.URL + "/investors"}, nil, nil)
	ctx := context.Background()

	p, err := s.Fetch(ctx, domain.InvestorRef{Name: "Ghost"}, "ghost")
	require.NoError(t, err)
	require.Nil(t, p)

	_, err = s.Fetch(ctx, domain.InvestorRef{Name: "Broken"}, "broken")
	require.Error(t, err)

	noBase := NewProfileScraper(ProfileScraperConfig{}, nil, nil)
	p, err = noBase.Fetch(ctx, domain.InvestorRef{Name: "Nowhere"}, "nowhere")
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestProfileScraperLocalEntriesExpire(t *testing.T) {
	var version atomic.Int32
	version.Store(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><h1>Alpha v%d</h1></body></html>`, version.Load())
	}))
	defer srv.Close()

	s := NewProfileScraper(ProfileScraperConfig{BaseURL: srv.URL + "/investors", CacheTTL: 200 * time.Millisecond}, nil, nil)
	ctx := context.Background()
	ref := domain.InvestorRef{Name: "Alpha"}

	p, err := s.Fetch(ctx, ref, "alpha")
	require.NoError(t, err)
	require.Equal(t, "Alpha v1", p.Name)

	version.Store(2)
	p, err = s.Fetch(ctx, ref, "alpha")
	require.NoError(t, err)
	require.Equal(t, "Alpha v1", p.Name, "fresh entry should be served from memory")

	require.Eventually(t, func() bool {
		p, err := s.Fetch(ctx, ref, "alpha")
		return err == nil && p != nil && p.Name == "Alpha v2"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProfileScraperLocalCacheIsBounded(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, `<html><body><h1>Investor</h1></body></html>`)
	}))
	defer srv.Close()

	s := NewProfileScraper(ProfileScraperConfig{BaseURL: srv.URL + "/investors", LocalSize: 1}, nil, nil)
	ctx := context.Background()

	for _, slug := range []string{"alpha", "beta", "alpha"} {
		_, err := s.Fetch(ctx, domain.InvestorRef{Name: slug}, slug)
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, hits.Load(), "alpha should have been evicted by beta")
}
