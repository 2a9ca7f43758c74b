package audius

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// defaultConnectTimeout bounds dialing and waiting for response headers of a media request.
	defaultConnectTimeout = 15 * time.Second
	// maxReconnects is how many times a single Read may reopen a dropped connection.
	maxReconnects = 1
)

// ErrStreamClosed is returned when reading from or seeking a closed Stream.
var ErrStreamClosed = errors.New("stream is closed")

// HTTPStreamer opens seekable media streams backed by HTTP range requests.
type HTTPStreamer struct {
	client *http.Client
}

// NewHTTPStreamer creates a streamer. The timeout bounds connection setup and response
// headers only, never the transfer of the body.
func NewHTTPStreamer(connectTimeout time.Duration) *HTTPStreamer {
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = connectTimeout
	transport.TLSHandshakeTimeout = connectTimeout

	client := newHTTPClient(0)
	client.Transport = transport
	return &HTTPStreamer{client: client}
}

// Open connects to mediaURL at offset zero and returns the stream.
func (s *HTTPStreamer) Open(ctx context.Context, mediaURL string) (*Stream, error) {
	stream := &Stream{
		ctx:    ctx,
		client: s.client,
		url:    mediaURL,
		size:   -1,
	}
	if err := stream.connect(); err != nil {
		return nil, err
	}
	return stream, nil
}

// Stream is a resumable, seekable byte stream over HTTP. It reconnects at the current
// offset after a seek or a dropped connection. A Stream is not safe for concurrent use.
type Stream struct {
	ctx         context.Context
	client      *http.Client
	url         string
	body        io.ReadCloser
	bodyPos     int64 // offset the open body will read next
	pos         int64
	size        int64
	contentType string
	closed      bool
}

// Size returns the total length in bytes, or -1 when the server did not report it.
func (s *Stream) Size() int64 { return s.size }

// ContentType returns the media type reported by the server.
func (s *Stream) ContentType() string { return s.contentType }

// Position returns the current read offset.
func (s *Stream) Position() int64 { return s.pos }

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}
	if len(p) == 0 {
		return 0, nil
	}

	if s.body != nil && s.bodyPos != s.pos {
		s.dropBody()
	}

	for attempt := 0; ; attempt++ {
		if s.size >= 0 && s.pos >= s.size {
			return 0, io.EOF
		}
		if s.body == nil {
			if err := s.connect(); err != nil {
				return 0, err
			}
			if s.body == nil {
				return 0, io.EOF
			}
		}

		n, err := s.body.Read(p)
		s.pos += int64(n)
		s.bodyPos = s.pos
		switch {
		case err == nil:
			return n, nil
		case errors.Is(err, io.EOF) && (s.size < 0 || s.pos >= s.size):
			s.dropBody()
			return n, io.EOF
		}

		// The connection ended before the reported size was reached, or failed.
		s.dropBody()
		if n > 0 {
			return n, nil
		}
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		if attempt >= maxReconnects {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("failed to read media stream at offset %d: %w", s.pos, err)
		}
	}
}

// Seek implements io.Seeker. It never performs IO; the next Read reconnects at the new offset.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, ErrStreamClosed
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		if s.size < 0 {
			return 0, errors.New("seek from end: stream size unknown")
		}
		abs = s.size + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, errors.New("seek: negative position")
	}

	s.pos = abs
	return abs, nil
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.dropBody()
	return nil
}

func (s *Stream) dropBody() {
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

// connect opens the media URL at the current position.
func (s *Stream) connect() error {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create media request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-", s.pos))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			s.size = total
		}
	case http.StatusOK:
		// The server ignored the range; skip to the current position.
		if resp.ContentLength >= 0 {
			s.size = resp.ContentLength
		}
		if s.pos > 0 {
			if _, err := io.CopyN(io.Discard, resp.Body, s.pos); err != nil {
				_ = resp.Body.Close()
				return fmt.Errorf("failed to skip to offset %d: %w", s.pos, err)
			}
		}
	case http.StatusRequestedRangeNotSatisfiable:
		_ = resp.Body.Close()
		if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
			s.size = total
		}
		return nil
	default:
		_ = resp.Body.Close()
		return &ProtocolError{URL: s.url, Message: fmt.Sprintf("media server returned status %d", resp.StatusCode)}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		s.contentType = ct
	}
	s.body = resp.Body
	s.bodyPos = s.pos
	return nil
}

// parseContentRangeTotal extracts the complete length from "bytes a-b/total".
func parseContentRangeTotal(header string) (int64, bool) {
	slash := strings.LastIndex(header, "/")
	if slash < 0 {
		return 0, false
	}
	total, err := strconv.ParseInt(strings.TrimSpace(header[slash+1:]), 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}
