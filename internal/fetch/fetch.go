// Package fetch downloads the form response workbook from Microsoft Graph
// using an app-only client-credentials token.
package fetch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/joelkehle/challenge-pipeline/internal/failure"
	"github.com/joelkehle/challenge-pipeline/internal/logging"
	"github.com/joelkehle/challenge-pipeline/internal/telemetry"
)

const graphScope = "https://graph.microsoft.com/.default"

// ErrInvalidTarget reports a target that names zero or several addressing
// modes.
var ErrInvalidTarget = errors.New("provide a share link, a user and file path, or a site host, site path and file path")

// Target addresses the workbook in exactly one way.
type Target struct {
	ShareLink string
	User      string
	FilePath  string
	SiteHost  string
	SitePath  string
}

func (t Target) IsZero() bool { return t == Target{} }

func (t Target) Validate() error {
	modes := 0
	if t.ShareLink != "" {
		modes++
	}
	if t.User != "" {
		modes++
		if t.FilePath == "" {
			return fmt.Errorf("%w: user requires a file path", ErrInvalidTarget)
		}
	}
	if t.SiteHost != "" || t.SitePath != "" {
		modes++
		if t.SiteHost == "" || t.SitePath == "" || t.FilePath == "" {
			return fmt.Errorf("%w: site requires host, site path and file path", ErrInvalidTarget)
		}
	}
	if modes != 1 {
		return ErrInvalidTarget
	}
	if t.ShareLink != "" && t.FilePath != "" {
		return fmt.Errorf("%w: share link does not take a file path", ErrInvalidTarget)
	}
	return nil
}

type Options struct {
	BaseURL      string
	LoginURL     string
	TenantID     string
	ClientID     string
	ClientSecret string
	Timeout      time.Duration
	MaxAttempts  int
	Logger       *zap.Logger
}

type Client struct {
	baseURL     string
	creds       clientcredentials.Config
	timeout     time.Duration
	maxAttempts uint
	log         *zap.Logger
	newBackOff  func() backoff.BackOff
}

// New checks credentials before anything touches the network.
func New(opts Options) (*Client, error) {
	var missing []string
	for _, c := range []struct{ name, v string }{
		{"MS_TENANT_ID", opts.TenantID},
		{"MS_CLIENT_ID", opts.ClientID},
		{"MS_CLIENT_SECRET", opts.ClientSecret},
	} {
		if strings.TrimSpace(c.v) == "" {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return nil, failure.Auth("graph credentials", fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.microsoft.com/v1.0"
	}
	if opts.LoginURL == "" {
		opts.LoginURL = "https://login.microsoftonline.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		creds: clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     strings.TrimRight(opts.LoginURL, "/") + "/" + url.PathEscape(opts.TenantID) + "/oauth2/v2.0/token",
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		timeout:     opts.Timeout,
		maxAttempts: uint(opts.MaxAttempts),
		log:         logging.OrNop(opts.Logger),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

// Download writes the workbook addressed by target to dest. The file is
// streamed to dest.tmp and renamed on success.
func (c *Client) Download(ctx context.Context, target Target, dest string) (int64, error) {
	if err := target.Validate(); err != nil {
		return 0, err
	}
	ctx, span := telemetry.StartSpan(ctx, "fetch.download")
	n, err := c.download(ctx, target, dest)
	telemetry.EndSpan(span, err)
	return n, err
}

func (c *Client) download(ctx context.Context, target Target, dest string) (int64, error) {
	httpClient := c.creds.Client(ctx)
	httpClient.Timeout = c.timeout

	var contentURL string
	switch {
	case target.ShareLink != "":
		contentURL = c.baseURL + "/shares/" + ShareID(target.ShareLink) + "/driveItem/content"
	case target.User != "":
		contentURL = c.baseURL + "/users/" + url.PathEscape(target.User) + "/drive/root:/" + escapePath(target.FilePath) + ":/content"
	default:
		siteID, err := c.resolveSite(ctx, httpClient, target.SiteHost, target.SitePath)
		if err != nil {
			return 0, err
		}
		contentURL = c.baseURL + "/sites/" + url.PathEscape(siteID) + "/drive/root:/" + escapePath(target.FilePath) + ":/content"
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}
	n, err := retry(ctx, c, "download", func() (int64, error) {
		return c.fetchTo(ctx, httpClient, contentURL, dest)
	})
	if err != nil {
		return 0, err
	}
	c.log.Info("fetch downloaded workbook", zap.String("dest", dest), zap.Int64("bytes", n))
	return n, nil
}

// ShareID encodes a sharing URL the way the shares endpoint expects.
func ShareID(link string) string {
	return "u!" + base64.RawURLEncoding.EncodeToString([]byte(strings.TrimSpace(link)))
}

func escapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func (c *Client) resolveSite(ctx context.Context, httpClient *http.Client, host, sitePath string) (string, error) {
	siteURL := c.baseURL + "/sites/" + url.PathEscape(host) + ":/" + escapePath(sitePath)
	blob, err := retry(ctx, c, "resolve site", func() ([]byte, error) {
		resp, err := c.get(ctx, httpClient, siteURL)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return "", err
	}
	var site struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(blob, &site); err != nil {
		return "", failure.Parse("resolve site", err)
	}
	if site.ID == "" {
		return "", failure.NotFound("resolve site", fmt.Errorf("no site id for %s:%s", host, sitePath))
	}
	return site.ID, nil
}

func (c *Client) fetchTo(ctx context.Context, httpClient *http.Client, contentURL, dest string) (int64, error) {
	resp, err := c.get(ctx, httpClient, contentURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create %s: %w", tmp, err))
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, failure.Network("download", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return 0, backoff.Permanent(fmt.Errorf("rename %s: %w", tmp, err))
	}
	return n, nil
}

// get returns a 2xx response or a classified error. Non-retryable failures
// are marked permanent.
func (c *Client) get(ctx context.Context, httpClient *http.Client, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	resp.Body.Close()
	return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
}

func classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && (re.Response.StatusCode >= 500 || re.Response.StatusCode == http.StatusTooManyRequests) {
			return failure.Network("token", err)
		}
		return backoff.Permanent(failure.Auth("token", err))
	}
	return failure.Network("request", err)
}

func classifyStatus(code int, body string) error {
	err := fmt.Errorf("status=%d body=%s", code, body)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return backoff.Permanent(failure.Auth("graph", err))
	case code == http.StatusNotFound:
		return backoff.Permanent(failure.NotFound("graph", err))
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return failure.Network("graph", err)
	default:
		return backoff.Permanent(failure.Schema("graph", err))
	}
}

func retry[T any](ctx context.Context, c *Client, op string, fn func() (T, error)) (T, error) {
	return backoff.Retry(ctx, fn,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.maxAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.log.Warn("fetch retrying", zap.String("op", op), zap.Duration("backoff", d), zap.Error(err))
		}),
	)
}
