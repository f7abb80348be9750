package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/veoclip/pkg/model"
)

const (
	defaultVideoMIMEType = "video/mp4"
	maxErrorBodySize     = 64 * 1024
)

// Downloader fetches produced assets from the location reported by the
// remote API
type Downloader interface {
	Download(ctx context.Context, uri string) (*model.Asset, error)
}

type downloader struct {
	apiKey     string
	httpClient *http.Client
	gcs        *storage.Client
}

type DownloaderOption func(*downloader)

func WithHTTPClient(client *http.Client) DownloaderOption {
	return func(d *downloader) {
		d.httpClient = client
	}
}

// WithGCSClient enables gs:// locations, which the Vertex AI backend returns
// when an output bucket is configured
func WithGCSClient(client *storage.Client) DownloaderOption {
	return func(d *downloader) {
		d.gcs = client
	}
}

// NewDownloader creates a Downloader that appends apiKey to HTTP locations
func NewDownloader(apiKey string, opts ...DownloaderOption) Downloader {
	d := &downloader{
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *downloader) Download(ctx context.Context, uri string) (*model.Asset, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid video location", goerr.V("uri", uri))
	}

	switch u.Scheme {
	case "http", "https":
		return d.downloadHTTP(ctx, u)
	case "gs":
		return d.downloadGCS(ctx, u)
	default:
		return nil, goerr.New("unsupported video location", goerr.V("uri", uri))
	}
}

func (d *downloader) downloadHTTP(ctx context.Context, u *url.URL) (*model.Asset, error) {
	location := u.String()
	if d.apiKey != "" {
		q := u.Query()
		q.Set("key", d.apiKey)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create download request", goerr.V("uri", location))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to download video", goerr.V("uri", location))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, goerr.New(
			fmt.Sprintf("failed to download video: %s. Details: %s", resp.Status, strings.TrimSpace(string(body))),
			goerr.V("uri", location),
			goerr.V("status", resp.StatusCode),
		)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read video body", goerr.V("uri", location))
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || strings.HasPrefix(mimeType, "application/octet-stream") {
		mimeType = defaultVideoMIMEType
	}

	return &model.Asset{URI: location, Data: data, MIMEType: mimeType}, nil
}

func (d *downloader) downloadGCS(ctx context.Context, u *url.URL) (*model.Asset, error) {
	if d.gcs == nil {
		return nil, goerr.New("gs:// location requires a Cloud Storage client", goerr.V("uri", u.String()))
	}

	obj := d.gcs.Bucket(u.Host).Object(strings.TrimPrefix(u.Path, "/"))
	reader, err := obj.NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read video from storage", goerr.V("uri", u.String()))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read video from storage", goerr.V("uri", u.String()))
	}

	mimeType := reader.Attrs.ContentType
	if mimeType == "" {
		mimeType = defaultVideoMIMEType
	}

	return &model.Asset{URI: u.String(), Data: data, MIMEType: mimeType}, nil
}
