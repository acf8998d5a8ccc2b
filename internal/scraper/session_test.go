package scraper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCookieHeader(t *testing.T) {
	cookies := ParseCookieHeader(" sid=abc ; theme=dark;broken; =x; token=a=b", ".deals.example.com")
	require.Len(t, cookies, 3)
	require.Equal(t, Cookie{Name: "sid", Value: "abc", Domain: ".deals.example.com", Path: "/", Secure: true}, cookies[0])
	require.Equal(t, "token", cookies[2].Name)
	require.Equal(t, "a=b", cookies[2].Value)
}

func TestFileSessionReloadsCookies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cookies.json")
	fallback := NewStaticSession(Session{
		Cookies:   []Cookie{{Name: "old", Value: "1"}},
		Headers:   map[string]string{"Accept-Language": "en"},
		UserAgent: "test-agent",
	})
	fs := NewFileSession(path, fallback, nil)

	sess, err := fs.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, "old", sess.Cookies[0].Name)

	require.NoError(t, os.WriteFile(path, []byte(`[{"name":"sid","value":"new","domain":"deals.example.com"},{"value":"nameless"}]`), 0o600))
	sess, err = fs.Session(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Cookie{{Name: "sid", Value: "new", Domain: "deals.example.com"}}, sess.Cookies)
	require.Equal(t, "test-agent", sess.UserAgent)
	require.Equal(t, "en", sess.Headers["Accept-Language"])
}
