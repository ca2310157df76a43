package index

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/distr1/whey"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned by Open when the server responds with 404.
type ErrNotFound struct {
	url *url.URL
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%v: HTTP status 404", e.url)
}

type gzipReader struct {
	body io.ReadCloser
	zr   *gzip.Reader
}

func (r *gzipReader) Read(p []byte) (n int, err error) {
	return r.zr.Read(p)
}

func (r *gzipReader) Close() error {
	if err := r.zr.Close(); err != nil {
		return err
	}
	return r.body.Close()
}

// DefaultClient does not transparently decompress: with some web servers,
// http.DefaultTransport’s default compression handling results in an
// unwanted gunzip step of .tar.gz files.
var DefaultClient = &http.Client{Transport: &http.Transport{
	Proxy:               http.ProxyFromEnvironment,
	MaxIdleConnsPerHost: 10,
	DisableCompression:  true,
}}

// HTTP is a remote simple index, e.g. https://pypi.org/simple.
type HTTP struct {
	URL    string
	Client *http.Client
	Log    logrus.FieldLogger
}

// NewHTTP returns an HTTP index for base URL u.
func NewHTTP(u string, log logrus.FieldLogger) *HTTP {
	return &HTTP{
		URL:    strings.TrimSuffix(u, "/"),
		Client: DefaultClient,
		Log:    log,
	}
}

func (h *HTTP) String() string { return h.URL }

func (h *HTTP) client() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return DefaultClient
}

// get fetches u, undoing gzip content encoding (only requested for index
// pages, never for artifacts).
func (h *HTTP) get(ctx context.Context, u string, header http.Header) (*http.Response, io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := h.client().Do(req)
	if err != nil {
		return nil, nil, err
	}
	if got, want := resp.StatusCode, http.StatusOK; got != want {
		resp.Body.Close()
		if got == http.StatusNotFound {
			return nil, nil, &ErrNotFound{url: req.URL}
		}
		return nil, nil, xerrors.Errorf("%s: unexpected HTTP status: got %d (%v), want %d", req.URL, got, resp.Status, want)
	}
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		rd, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, nil, err
		}
		return resp, &gzipReader{body: resp.Body, zr: rd}, nil
	}
	return resp, resp.Body, nil
}

func (h *HTTP) Files(ctx context.Context, project string) ([]File, error) {
	pageURL := h.URL + "/" + whey.NormalizeName(project) + "/"
	if h.Log != nil {
		h.Log.Debugf("%s: getting available versions from %s", project, pageURL)
	}
	header := http.Header{
		"Accept":          {ContentTypeJSON + ", text/html;q=0.1"},
		"Accept-Encoding": {"gzip"},
	}
	resp, body, err := h.get(ctx, pageURL, header)
	if err != nil {
		var nf *ErrNotFound
		if xerrors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	defer body.Close()
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	// Relative links are resolved against the final URL, after redirects.
	parent := resp.Request.URL
	if isJSON(resp.Header.Get("Content-Type")) {
		return parseJSON(parent, b)
	}
	return parseHTML(parent, b)
}

func (h *HTTP) Open(ctx context.Context, f File) (io.ReadCloser, error) {
	_, body, err := h.get(ctx, f.URL, nil)
	return body, err
}
