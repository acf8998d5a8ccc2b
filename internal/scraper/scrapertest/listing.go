// Package scrapertest renders listing pages for tests and serves them through
// an in-process PageFetcher.
package scrapertest

import (
	"context"
	"fmt"
	"html/template"
	"strings"
	"sync"

	"github.com/kapu/dealsync-go/pkg/errors"
)

type Investor struct {
	Name string
	Href string
}

type Row struct {
	Rank        string
	Project     string
	ProjectHref string
	Logo        string
	Round       string
	Date        string
	Raised      string
	FDV         string
	Categories  []string
	Investors   []Investor
	Individuals bool
	HideMore    int
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><body>
<table class="deals-table">
<thead><tr><th>#</th><th>Project</th><th>Round</th><th>Date</th><th>Raised</th><th>FDV</th><th>Category</th><th>Investors</th></tr></thead>
<tbody>
{{- range . }}
<tr>
  <td class="col-rank">{{ .Rank }}</td>
  <td class="col-project"><a href="{{ .ProjectHref }}">{{ if .Logo }}<img src="{{ .Logo }}">{{ end }}<span class="project-name">{{ .Project }}</span></a></td>
  <td class="col-round">{{ .Round }}</td>
  <td class="col-date">{{ .Date }}</td>
  <td class="col-raised">{{ .Raised }}</td>
  <td class="col-fdv">{{ .FDV }}</td>
  <td class="col-category">{{ range .Categories }}<span class="tag">{{ . }}</span>{{ end }}</td>
  <td class="col-investors">
    {{- range .Investors }}<a class="investor" href="{{ .Href }}">{{ .Name }}</a>{{ end -}}
    {{- if .Individuals }}<span class="individual-investors">+ Individual investors</span>{{ end -}}
    {{- if .HideMore }}<a class="investor show-more" href="#">+{{ .HideMore }}</a>{{ end -}}
  </td>
</tr>
{{- end }}
</tbody>
</table>
</body></html>`))

// RenderPage returns listing markup containing rows in order.
func RenderPage(rows []Row) string {
	var b strings.Builder
	if err := pageTemplate.Execute(&b, rows); err != nil {
		panic(err)
	}
	return b.String()
}

// Fetcher serves rendered pages from memory. Pages beyond the last one
// render an empty table.
type Fetcher struct {
	mu       sync.Mutex
	pages    map[int][]Row
	failures map[int]int
	calls    []int
}

func NewFetcher(pages map[int][]Row) *Fetcher {
	return &Fetcher{pages: pages, failures: make(map[int]int)}
}

// FailPage makes the next n fetches of page fail with a transient error.
func (f *Fetcher) FailPage(page, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[page] += n
}

// Calls returns the pages fetched so far in call order.
func (f *Fetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func (f *Fetcher) FetchListingPage(ctx context.Context, page int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, page)

	if f.failures[page] > 0 {
		f.failures[page]--
		return "", errors.NewFetchError("navigation timeout", fmt.Sprintf("memory://listing/%d/", page), page, 0, true, nil)
	}
	return RenderPage(f.pages[page]), nil
}
