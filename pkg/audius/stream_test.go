package audius

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

var mediaPayload = []byte("0123456789abcdefghijklmnopqrstuvwxyz")

// newMediaServer serves mediaPayload honoring Range requests.
func newMediaServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(mediaPayload))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func streamRoute(mediaURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("no_redirect") != "true" {
			http.Error(w, "redirect not expected", http.StatusBadRequest)
			return
		}
		_, _ = fmt.Fprintf(w, `{"data":%q}`, mediaURL)
	}
}

func testTrack(t *testing.T, id string) Track {
	t.Helper()
	track, err := NewTrack(TrackInfo{ID: id, Title: "T", URI: "/a/" + id})
	if err != nil {
		t.Fatalf("NewTrack() error = %v", err)
	}
	return track
}

func TestStreamHandle_OpenReadSeek(t *testing.T) {
	media := newMediaServer(t)
	source, _ := newTestUpstream(t, map[string]http.HandlerFunc{
		"/v1/tracks/t1/stream": streamRoute(media.URL + "/track.mp3"),
	})

	stream, err := source.StreamHandle(testTrack(t, "t1")).Open(context.Background())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = stream.Close() }()

	if stream.Size() != int64(len(mediaPayload)) {
		t.Errorf("Size() = %d, want %d", stream.Size(), len(mediaPayload))
	}

	head := make([]byte, 10)
	if _, err := io.ReadFull(stream, head); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(head) != "0123456789" {
		t.Errorf("head = %q", head)
	}

	if _, err := stream.Seek(-6, io.SeekEnd); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	tail, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(tail) != "uvwxyz" {
		t.Errorf("tail = %q, want %q", tail, "uvwxyz")
	}

	if pos, err := stream.Seek(10, io.SeekStart); err != nil || pos != 10 {
		t.Fatalf("Seek() = (%d, %v)", pos, err)
	}
	mid := make([]byte, 3)
	if _, err := io.ReadFull(stream, mid); err != nil {
		t.Fatalf("ReadFull() error = %v", err)
	}
	if string(mid) != "abc" {
		t.Errorf("mid = %q, want %q", mid, "abc")
	}
	if stream.Position() != 13 {
		t.Errorf("Position() = %d, want 13", stream.Position())
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := stream.Read(mid); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Read() after Close error = %v, want ErrStreamClosed", err)
	}
}

func TestStream_IgnoredRangeSkipsToOffset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(mediaPayload)))
		_, _ = w.Write(mediaPayload)
	}))
	defer srv.Close()

	stream, err := NewHTTPStreamer(time.Second).Open(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = stream.Close() }()

	if _, err := stream.Seek(30, io.SeekStart); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	rest, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(rest) != "uvwxyz" {
		t.Errorf("rest = %q, want %q", rest, "uvwxyz")
	}
}

func TestStream_ReconnectsAfterDrop(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			// Announce the full length but close the connection after a few bytes.
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(mediaPayload)-1, len(mediaPayload)))
			w.Header().Set("Content-Length", fmt.Sprint(len(mediaPayload)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(mediaPayload[:5])
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				_ = conn.Close()
			}
			return
		}
		http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(mediaPayload))
	}))
	defer srv.Close()

	stream, err := NewHTTPStreamer(time.Second).Open(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = stream.Close() }()

	all, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(all, mediaPayload) {
		t.Errorf("ReadAll() = %q, want %q", all, mediaPayload)
	}
	if n := requests.Load(); n != 2 {
		t.Errorf("media requests = %d, want 2", n)
	}
}

func TestStream_SeekErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Flushing before the handler returns forces a chunked response without a length.
		_, _ = w.Write(mediaPayload)
		w.(http.Flusher).Flush()
	}))
	defer srv.Close()

	stream, err := NewHTTPStreamer(time.Second).Open(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = stream.Close() }()

	if stream.Size() != -1 {
		t.Errorf("Size() = %d, want -1", stream.Size())
	}
	if _, err := stream.Seek(0, io.SeekEnd); err == nil {
		t.Error("Seek(SeekEnd) with unknown size succeeded")
	}
	if _, err := stream.Seek(-1, io.SeekStart); err == nil {
		t.Error("Seek() to a negative position succeeded")
	}
}

func TestStreamHandle_NoStream(t *testing.T) {
	tests := []struct {
		name  string
		route http.HandlerFunc
	}{
		{name: "Empty URL", route: respond(http.StatusOK, `{"data":""}`)},
		{name: "Not found", route: respond(http.StatusOK, `{"error":"Track not found"}`)},
		{name: "HTTP 404", route: respond(http.StatusNotFound, ``)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, _ := newTestUpstream(t, map[string]http.HandlerFunc{
				"/v1/tracks/t1/stream": tt.route,
			})

			stream, err := source.StreamHandle(testTrack(t, "t1")).Open(context.Background())
			if !errors.Is(err, ErrNoStream) {
				t.Fatalf("Open() error = %v, want ErrNoStream", err)
			}
			if stream != nil {
				t.Error("Open() returned a stream alongside an error")
			}
		})
	}
}

func TestStreamHandle_MalformedLookup(t *testing.T) {
	source, _ := newTestUpstream(t, map[string]http.HandlerFunc{
		"/v1/tracks/t1/stream": respond(http.StatusOK, `{"data":{"url":"x"}}`),
	})

	_, err := source.StreamHandle(testTrack(t, "t1")).MediaURL(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) || !protoErr.Malformed {
		t.Errorf("MediaURL() error = %v, want malformed *ProtocolError", err)
	}
}

func TestStreamHandle_MediaServerError(t *testing.T) {
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusInternalServerError)
	}))
	defer media.Close()

	source, _ := newTestUpstream(t, map[string]http.HandlerFunc{
		"/v1/tracks/t1/stream": streamRoute(media.URL),
	})

	_, err := source.StreamHandle(testTrack(t, "t1")).Open(context.Background())
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Errorf("Open() error = %v, want *ProtocolError", err)
	}
}

func TestStreamHandle_MediaTransportError(t *testing.T) {
	media := httptest.NewServer(http.NotFoundHandler())
	mediaURL := media.URL
	media.Close()

	source, _ := newTestUpstream(t, map[string]http.HandlerFunc{
		"/v1/tracks/t7/stream": streamRoute(mediaURL),
	})

	_, err := source.StreamHandle(testTrack(t, "t7")).Open(context.Background())
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Open() error = %v, want *TransportError", err)
	}
	if transportErr.ID != "t7" {
		t.Errorf("TransportError.ID = %q, want %q", transportErr.ID, "t7")
	}
}

func TestStreamHandle_FreshLookupPerOpen(t *testing.T) {
	media := newMediaServer(t)
	var lookups atomic.Int32
	source, _ := newTestUpstream(t, map[string]http.HandlerFunc{
		"/v1/tracks/t1/stream": func(w http.ResponseWriter, r *http.Request) {
			lookups.Add(1)
			streamRoute(media.URL)(w, r)
		},
	})

	handle := source.StreamHandle(testTrack(t, "t1"))
	for i := 0; i < 2; i++ {
		stream, err := handle.Open(context.Background())
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		_ = stream.Close()
	}
	if n := lookups.Load(); n != 2 {
		t.Errorf("stream lookups = %d, want 2", n)
	}
}

func TestStreamHandle_Clone(t *testing.T) {
	source := NewSourceWithProvider(Options{}, "https://dn.example", zap.NewNop())
	handle := source.StreamHandle(testTrack(t, "abc"))
	clone := handle.Clone()

	if clone == handle {
		t.Fatal("Clone() returned the same handle")
	}
	if clone.TrackID() != "abc" || clone.Provider() != "https://dn.example" {
		t.Errorf("Clone() = (%q, %q)", clone.TrackID(), clone.Provider())
	}
}

func TestStreamHandle_NotInitialized(t *testing.T) {
	source := NewSourceWithProvider(Options{}, NoProvider, zap.NewNop())
	_, err := source.StreamHandle(testTrack(t, "abc")).Open(context.Background())
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Open() error = %v, want ErrNotInitialized", err)
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		wantOK bool
	}{
		{"bytes 0-9/36", 36, true},
		{"bytes */36", 36, true},
		{"bytes 0-9/*", 0, false},
		{"", 0, false},
		{"bytes 0-9/-3", 0, false},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.header, "/", "_"), func(t *testing.T) {
			got, ok := parseContentRangeTotal(tt.header)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseContentRangeTotal(%q) = (%d, %v), want (%d, %v)", tt.header, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
