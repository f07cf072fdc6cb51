package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// ResolverConfig configures remote downloads.
type ResolverConfig struct {
	Hosts        []string
	DownloadBase string
	Timeout      time.Duration
	MaxBytes     int64
	Concurrency  int
}

// Resolver turns documents into bytes.
type Resolver struct {
	cfg    ResolverConfig
	client *http.Client
	logger *slog.Logger
}

// NewResolver creates a Resolver. A nil client gets one with cfg.Timeout; a
// nil logger uses slog.Default().
func NewResolver(cfg ResolverConfig, client *http.Client, logger *slog.Logger) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Resolver{cfg: cfg, client: client, logger: logger}
}

// Resolve fetches the bytes of every document concurrently. The first
// failure cancels the rest and is returned; on success the result keeps the
// input order.
func (r *Resolver) Resolve(ctx context.Context, docs []Document) ([]Document, error) {
	if len(docs) == 0 {
		return nil, ErrEmptySources
	}
	out := make([]Document, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			resolved, err := r.resolveOne(gctx, doc)
			if err != nil {
				return err
			}
			out[i] = resolved
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) resolveOne(ctx context.Context, doc Document) (Document, error) {
	switch doc.Kind {
	case KindUpload:
		if doc.Data == nil {
			doc.Data = []byte{}
		}
		return doc, nil
	case KindLocalFile:
		data, err := os.ReadFile(doc.Path)
		if err != nil {
			return doc, &ResolutionError{Source: doc.Name, Err: err}
		}
		doc.Data = data
		return doc, nil
	case KindRemoteLink:
		data, err := r.download(ctx, doc.URL)
		if err != nil {
			return doc, err
		}
		doc.Data = data
		r.logger.Debug("downloaded remote document", "source", doc.Name, "bytes", len(data))
		return doc, nil
	default:
		return doc, &ResolutionError{Source: doc.Name, Err: fmt.Errorf("unknown document kind %q", doc.Kind)}
	}
}

// DownloadURL returns the direct-download address for a document id.
func (r *Resolver) DownloadURL(id string) (string, error) {
	u, err := url.Parse(r.cfg.DownloadBase)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("export", "download")
	q.Set("id", id)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r *Resolver) download(ctx context.Context, link string) ([]byte, error) {
	ref, err := ParseRemoteLink(link, r.cfg.Hosts)
	if err != nil {
		return nil, &ResolutionError{Source: link, Err: err}
	}
	target, err := r.DownloadURL(ref.ID)
	if err != nil {
		return nil, &ResolutionError{Source: link, Err: err}
	}

	body, resp, err := r.get(ctx, link, target)
	if err != nil {
		return nil, err
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return body, nil
	}

	// Large files are served behind a "download anyway" page first.
	next, ok, err := confirmURL(resp.Request.URL, body)
	if err != nil || !ok {
		return nil, &ResolutionError{Source: link, StatusCode: resp.StatusCode, Err: errors.New("host returned an HTML page instead of the document")}
	}
	r.logger.Debug("following download confirmation", "source", link)
	body, resp, err = r.get(ctx, link, next)
	if err != nil {
		return nil, err
	}
	if isHTML(resp.Header.Get("Content-Type")) {
		return nil, &ResolutionError{Source: link, StatusCode: resp.StatusCode, Err: errors.New("download confirmation did not yield the document")}
	}
	return body, nil
}

func (r *Resolver) get(ctx context.Context, source, target string) ([]byte, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, &ResolutionError{Source: source, Err: err}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, &ResolutionError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &ResolutionError{Source: source, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	var reader io.Reader = resp.Body
	if r.cfg.MaxBytes > 0 {
		reader = io.LimitReader(resp.Body, r.cfg.MaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, &ResolutionError{Source: source, StatusCode: resp.StatusCode, Err: err}
	}
	if r.cfg.MaxBytes > 0 && int64(len(data)) > r.cfg.MaxBytes {
		return nil, nil, &ResolutionError{Source: source, StatusCode: resp.StatusCode, Err: fmt.Errorf("document exceeds %d bytes", r.cfg.MaxBytes)}
	}
	return data, resp, nil
}

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mt == "text/html"
}

// confirmURL finds the follow-up download address on an interstitial page,
// either a form with hidden inputs or a direct download anchor.
func confirmURL(base *url.URL, page []byte) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return "", false, err
	}

	if form := doc.Find("form#download-form").First(); form.Length() > 0 {
		action, _ := form.Attr("action")
		u, err := resolveRef(base, action)
		if err != nil {
			return "", false, err
		}
		q := u.Query()
		form.Find("input[type=hidden]").Each(func(_ int, in *goquery.Selection) {
			name, ok := in.Attr("name")
			if !ok || name == "" {
				return
			}
			value, _ := in.Attr("value")
			q.Set(name, value)
		})
		u.RawQuery = q.Encode()
		return u.String(), true, nil
	}

	if href, ok := doc.Find("a#uc-download-link").First().Attr("href"); ok && href != "" {
		u, err := resolveRef(base, href)
		if err != nil {
			return "", false, err
		}
		return u.String(), true, nil
	}
	return "", false, nil
}

func resolveRef(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return u, nil
	}
	return base.ResolveReference(u), nil
}
