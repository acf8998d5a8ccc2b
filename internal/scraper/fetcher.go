package scraper

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/constants"
	"github.com/kapu/dealsync-go/pkg/errors"
)

// PageFetcher returns the rendered markup of one listing page.
type PageFetcher interface {
	FetchListingPage(ctx context.Context, page int) (string, error)
}

type ChromeOptions struct {
	BaseURL           string
	Headless          bool
	ExecPath          string
	NavigationTimeout time.Duration
	MarkerTimeout     time.Duration
	SettleDelay       time.Duration
	// TableMarker must be visible before the page counts as loaded.
	TableMarker string
	// ExpandSelector matches the "show all investors" toggles.
	ExpandSelector string
}

// ChromeFetcher renders listing pages in headless Chrome. All fetches share
// one browser process, started on first use and restarted if it dies. Every
// fetch gets its own tab in a fresh browser context, so cookies never leak
// between fetches.
type ChromeFetcher struct {
	opts        ChromeOptions
	session     SessionProvider
	allocCtx    context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

func NewChromeFetcher(opts ChromeOptions, session SessionProvider, logger *zap.Logger) *ChromeFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = constants.BrowserConfig.NavigationTimeout
	}
	if opts.MarkerTimeout <= 0 {
		opts.MarkerTimeout = constants.BrowserConfig.MarkerTimeout
	}
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.TableMarker == "" {
		opts.TableMarker = DefaultSelectors().Table
	}
	if opts.ExpandSelector == "" {
		opts.ExpandSelector = DefaultSelectors().ExpandToggle
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("suppress-cookie-errors", true),
		chromedp.Flag("window-size", "1920,1080"),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	return &ChromeFetcher{
		opts:        opts,
		session:     session,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}
}

// PageURL is the listing address of page.
func (f *ChromeFetcher) PageURL(page int) string {
	return fmt.Sprintf("%s/%d/", f.opts.BaseURL, page)
}

func (f *ChromeFetcher) FetchListingPage(ctx context.Context, page int) (string, error) {
	pageURL := f.PageURL(page)

	sess, err := f.session.Session(ctx)
	if err != nil {
		return "", errors.NewFetchError("session unavailable", pageURL, page, 0, false, err)
	}

	browserCtx, err := f.browser()
	if err != nil {
		return "", f.fetchError(ctx, "browser start failed", pageURL, page, err)
	}

	tabCtx, closeTab := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	defer closeTab()
	// the tab hangs off the shared browser, so caller cancellation is forwarded by hand
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()

	navCtx, cancelNav := context.WithTimeout(tabCtx, f.opts.NavigationTimeout)
	defer cancelNav()

	start := time.Now()
	err = chromedp.Run(navCtx,
		network.Enable(),
		network.SetCookies(cookieParams(sess.Cookies, f.opts.BaseURL)),
		network.SetExtraHTTPHeaders(headerParams(sess.Headers)),
		emulation.SetUserAgentOverride(userAgentOrDefault(sess.UserAgent)),
		chromedp.Navigate(pageURL),
	)
	if err != nil {
		return "", f.fetchError(ctx, "navigation failed", pageURL, page, err)
	}

	markerCtx, cancelMarker := context.WithTimeout(navCtx, f.opts.MarkerTimeout)
	err = chromedp.Run(markerCtx, chromedp.WaitVisible(f.opts.TableMarker, chromedp.ByQuery))
	cancelMarker()
	if err != nil {
		return "", f.fetchError(ctx, "table marker not found", pageURL, page, err)
	}

	var (
		expanded int
		html     string
	)
	err = chromedp.Run(navCtx,
		chromedp.Evaluate(expandScript(f.opts.ExpandSelector), &expanded),
		chromedp.Sleep(f.opts.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", f.fetchError(ctx, "reading markup failed", pageURL, page, err)
	}

	f.logger.Debug("Listing page fetched",
		zap.Int("page", page),
		zap.Int("expanded", expanded),
		zap.Int("bytes", len(html)),
		zap.Duration("took", time.Since(start)),
	)
	return html, nil
}

// fetchError marks browser failures transient unless the caller gave up.
func (f *ChromeFetcher) fetchError(ctx context.Context, msg, pageURL string, page int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.NewFetchError(msg, pageURL, page, 0, false, ctxErr)
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		msg += " (timeout)"
	}
	return errors.NewFetchError(msg, pageURL, page, 0, true, err)
}

// browser returns the shared browser context, launching Chrome if needed.
func (f *ChromeFetcher) browser() (context.Context, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browserCtx != nil && f.browserCtx.Err() == nil {
		return f.browserCtx, nil
	}
	if f.browserCancel != nil {
		f.browserCancel()
		f.logger.Warn("Browser exited, restarting")
	}

	browserCtx, cancel := chromedp.NewContext(f.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			f.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	// an empty Run launches the browser
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		f.browserCtx, f.browserCancel = nil, nil
		return nil, err
	}
	f.browserCtx, f.browserCancel = browserCtx, cancel
	return browserCtx, nil
}

// Close shuts the shared browser down. Errors are ignored.
func (f *ChromeFetcher) Close() error {
	f.mu.Lock()
	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCtx, f.browserCancel = nil, nil
	}
	f.mu.Unlock()
	f.allocCancel()
	return nil
}

func cookieParams(cookies []Cookie, baseURL string) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if param.Domain == "" {
			param.URL = baseURL
		}
		params = append(params, param)
	}
	return params
}

func headerParams(headers map[string]string) network.Headers {
	out := make(network.Headers, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func userAgentOrDefault(ua string) string {
	if ua == "" {
		return constants.APIConfig.UserAgent
	}
	return ua
}

// expandScript clicks every collapsed-list toggle and reports how many it clicked.
func expandScript(selector string) string {
	return fmt.Sprintf(`(() => {
	let clicked = 0;
	document.querySelectorAll(%q).forEach((el) => {
		try { el.click(); clicked++; } catch (e) {}
	});
	return clicked;
})()`, selector)
}
