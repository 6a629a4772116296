package report

import (
	"context"
	"encoding/base64"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Renderer prints an HTML document to PDF bytes.
type Renderer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

type paperSize struct{ width, height float64 }

var papers = map[string]paperSize{
	"letter": {8.5, 11},
	"a4":     {8.27, 11.69},
}

const pageFooter = `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
	`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`

// ChromiumRenderer drives a headless Chromium through the DevTools protocol.
type ChromiumRenderer struct {
	chromePath string
	paper      paperSize
	timeout    time.Duration
}

// NewChromiumRenderer picks the first installed Chromium when chromePath is
// empty. Unknown paper names fall back to letter.
func NewChromiumRenderer(chromePath, paper string, timeout time.Duration) *ChromiumRenderer {
	if chromePath == "" {
		chromePath = detectChromePath()
	}
	size, ok := papers[strings.ToLower(paper)]
	if !ok {
		size = papers["letter"]
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ChromiumRenderer{chromePath: chromePath, paper: size, timeout: timeout}
}

func (r *ChromiumRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(pageFooter).
				WithPaperWidth(r.paper.width).
				WithPaperHeight(r.paper.height).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.5).
				WithMarginRight(0.5).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, err
	}
	return pdf, nil
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
