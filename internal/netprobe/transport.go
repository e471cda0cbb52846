// internal/netprobe/transport.go
package netprobe

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/xkilldash9x/suture-cli/internal/config"
)

// Connection pool sizing for a prober that revisits a small set of hosts
// every cycle.
const (
	dialTimeout           = 15 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 30 * time.Second
	maxIdleConns          = 32
	maxIdleConnsPerHost   = 4
	idleConnTimeout       = 90 * time.Second
)

// NewTransport builds the prober's shared RoundTripper: a hardened
// http.Transport wrapped so response bodies arrive decompressed regardless of
// the Content-Encoding the server picked.
func NewTransport(cfg config.NetworkConfig) http.RoundTripper {
	base := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.IgnoreTLSErrors,
		},
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       idleConnTimeout,
		ForceAttemptHTTP2:     true,
		// The transport's built-in handling only covers gzip; brotli and
		// deflate are negotiated and decoded by decompressingTransport.
		DisableCompression: true,
	}
	return &decompressingTransport{base: base}
}

// decompressingTransport advertises br/gzip/deflate on the way out and
// unwraps whatever encoding the server applied on the way back, so checks
// downstream always see plain bytes and real header values.
type decompressingTransport struct {
	base http.RoundTripper
}

func (d *decompressingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "br, gzip, deflate, identity")
	}

	resp, err := d.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := decompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}
	return resp, nil
}

// decompressResponse rewraps resp.Body according to Content-Encoding.
// Layered encodings are applied in reverse order, mirroring how the server
// stacked them.
func decompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil {
		return nil
	}

	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 {
		return nil
	}

	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.ToLower(strings.TrimSpace(encodings[i]))

		var reader io.ReadCloser
		switch encoding {
		case "gzip":
			gz, err := gzip.NewReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			reader = gz

		case "br":
			reader = io.NopCloser(brotli.NewReader(resp.Body))

		case "deflate":
			// Servers disagree on whether deflate means zlib-wrapped or raw.
			// The zlib probe consumes header bytes, so replay them on fallback.
			rr := newReplayReader(resp.Body)
			if zr, err := zlib.NewReader(rr); err == nil {
				reader = zr
			} else {
				rr.Rewind()
				reader = flate.NewReader(rr)
			}

		case "identity", "":
			continue

		default:
			return fmt.Errorf("unsupported Content-Encoding layer: %s", encoding)
		}

		resp.Body = &bodyWrapper{ReadCloser: reader, originalBody: resp.Body}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// bodyWrapper closes both the decoder and the underlying connection body.
type bodyWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
}

func (w *bodyWrapper) Close() error {
	return errors.Join(w.ReadCloser.Close(), w.originalBody.Close())
}

// replayReader tees early reads into a buffer so a failed decoder probe can
// be retried from the start of the stream.
type replayReader struct {
	r      io.Reader
	buf    bytes.Buffer
	source io.Reader
}

func newReplayReader(r io.Reader) *replayReader {
	rr := &replayReader{source: r}
	rr.r = io.TeeReader(r, &rr.buf)
	return rr
}

func (rr *replayReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

// Rewind makes subsequent reads start over from the first byte seen.
func (rr *replayReader) Rewind() {
	rr.r = io.MultiReader(bytes.NewReader(rr.buf.Bytes()), rr.source)
}
