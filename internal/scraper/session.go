package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/config"
)

// Cookie is one cookie injected into a browsing context.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

// Session is what a fetch presents to the listing site.
type Session struct {
	Cookies   []Cookie
	Headers   map[string]string
	UserAgent string
}

// SessionProvider supplies the session for each fetch so credentials can be
// rotated without restarting.
type SessionProvider interface {
	Session(ctx context.Context) (Session, error)
}

// StaticSession always returns the same session.
type StaticSession struct {
	session Session
}

func NewStaticSession(session Session) *StaticSession {
	return &StaticSession{session: session}
}

// StaticSessionFromConfig builds a session from SESSION_COOKIES style settings.
func StaticSessionFromConfig(cfg config.SessionConfig) *StaticSession {
	return NewStaticSession(Session{
		Cookies:   ParseCookieHeader(cfg.Cookies, cfg.CookieDomain),
		Headers:   cfg.Headers,
		UserAgent: cfg.UserAgent,
	})
}

func (s *StaticSession) Session(context.Context) (Session, error) {
	return s.session, nil
}

// FileSession reads cookies from a JSON file (an array of Cookie) on every
// call. Headers and user agent come from the fallback session, which is also
// used whole when the file cannot be read.
type FileSession struct {
	path     string
	fallback SessionProvider
	logger   *zap.Logger
}

func NewFileSession(path string, fallback SessionProvider, logger *zap.Logger) *FileSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSession{path: path, fallback: fallback, logger: logger}
}

func (s *FileSession) Session(ctx context.Context) (Session, error) {
	base, err := s.fallback.Session(ctx)
	if err != nil {
		return Session{}, err
	}

	cookies, err := readCookieFile(s.path)
	if err != nil {
		s.logger.Warn("Cookie file unreadable, using configured cookies",
			zap.String("path", s.path),
			zap.Error(err),
		)
		return base, nil
	}

	base.Cookies = cookies
	return base, nil
}

func readCookieFile(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("decode cookie file: %w", err)
	}
	valid := cookies[:0]
	for _, c := range cookies {
		if c.Name != "" {
			valid = append(valid, c)
		}
	}
	return valid, nil
}

// ParseCookieHeader splits "a=1; b=2" into cookies scoped to domain.
func ParseCookieHeader(header, domain string) []Cookie {
	cookies := make([]Cookie, 0)
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			continue
		}
		cookies = append(cookies, Cookie{
			Name:   name,
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
			Secure: true,
		})
	}
	return cookies
}
