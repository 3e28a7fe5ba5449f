package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newsharvest/internal/crawler"
	"github.com/JakeFAU/newsharvest/internal/extract"
	"github.com/JakeFAU/newsharvest/internal/resilient"
)

var testNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

const (
	site     = "https://news.example.com"
	homepage = site + "/"
	sentence = "Leeds City Council approved a new budget for Roundhay Park after a long debate among councillors and residents this week."
)

type page struct {
	status      int
	body        string
	contentType string
}

// fakeWeb serves canned pages by exact URL; unknown URLs are 404s.
type fakeWeb struct {
	mu       sync.Mutex
	pages    map[string]page
	requests []string
	options  []resilient.Options
}

func newFakeWeb() *fakeWeb {
	return &fakeWeb{pages: make(map[string]page)}
}

func (w *fakeWeb) serve(url, body string) *fakeWeb {
	w.pages[url] = page{status: http.StatusOK, body: body, contentType: "text/html; charset=utf-8"}
	return w
}

func (w *fakeWeb) fail(url string, status int) *fakeWeb {
	w.pages[url] = page{status: status}
	return w
}

func (w *fakeWeb) FetchResilient(_ context.Context, rawURL string, _ crawler.RetryPolicy, opts resilient.Options) (resilient.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.requests = append(w.requests, rawURL)
	w.options = append(w.options, opts)
	p, ok := w.pages[rawURL]
	if !ok {
		return resilient.Result{}, &crawler.HTTPError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	if p.status >= 400 {
		return resilient.Result{}, &crawler.HTTPError{URL: rawURL, StatusCode: p.status}
	}
	return resilient.Result{
		RequestedURL: rawURL,
		URL:          rawURL,
		StatusCode:   p.status,
		Headers:      http.Header{"Content-Type": {p.contentType}},
		Body:         []byte(p.body),
		Attempts:     1,
	}, nil
}

func (w *fakeWeb) requested(url string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.requests {
		if r == url {
			return true
		}
	}
	return false
}

func repeatParagraphs(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("<p>" + sentence + "</p>\n")
	}
	return b.String()
}

func articlePage(title string, published time.Time) string {
	return fmt.Sprintf(`<html><head><title>%s - Example News</title>
<meta property="article:published_time" content="%s">
<meta name="author" content="Sam Reporter"></head>
<body><article><h1>%s</h1><div class="article-body">%s</div></article></body></html>`,
		title, published.Format(time.RFC3339), title, repeatParagraphs(10))
}

var indexPage = `<html><head><title>Example News</title></head><body>` +
	`<p>` + strings.Repeat("Welcome to the Example News front page with today's headlines. ", 5) + `</p></body></html>`

func testToolkit(web *fakeWeb) *toolkit {
	return &toolkit{
		fetcher:   web,
		extractor: extract.New(extract.Patterns{}, nil),
		cfg:       DefaultConfig(),
		logger:    zap.NewNop(),
		now:       func() time.Time { return testNow },
	}
}

func testTarget() *Target {
	return &Target{
		Source:       crawler.Source{ID: "src-1", Name: "Example News", FeedURL: homepage},
		PageURL:      homepage,
		Origin:       site,
		Diagnosis:    crawler.DiagnosisOK,
		FetchOptions: resilient.Options{AllowAlternateRoutes: true},
	}
}
