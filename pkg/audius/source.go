package audius

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// SourceName identifies this source to the host.
	SourceName = "audius"
	// encodingVersion is bumped whenever the encoded track layout changes.
	encodingVersion = 1
)

// Source is the host-facing entry point: it selects a provider once and exposes
// lookup, track decoding and stream handles. It is safe for concurrent use.
type Source struct {
	client   *Client
	provider Provider
	resolver *Resolver
	streamer *HTTPStreamer
	logger   *zap.Logger
}

// NewSource builds the client and runs provider selection. A failed selection still
// returns a usable Source whose operations fail with ErrNotInitialized.
func NewSource(ctx context.Context, opts Options, logger *zap.Logger) *Source {
	opts = opts.withDefaults()
	client := NewClient(opts, logger)

	logger.Info("Initializing Audius source", zap.String("app_name", opts.AppName))
	provider, ok := SelectProvider(ctx, client, opts.DiscoveryURL)
	if !ok {
		logger.Warn("Audius source initialized without a discovery provider")
	}

	return newSource(client, provider, opts.StreamClient, logger)
}

// NewSourceWithProvider builds a Source bound to a known provider without discovery.
func NewSourceWithProvider(opts Options, provider Provider, logger *zap.Logger) *Source {
	opts = opts.withDefaults()
	return newSource(NewClient(opts, logger), provider, opts.StreamClient, logger)
}

func newSource(client *Client, provider Provider, streamer *HTTPStreamer, logger *zap.Logger) *Source {
	if streamer == nil {
		streamer = NewHTTPStreamer(defaultConnectTimeout)
	}
	return &Source{
		client:   client,
		provider: provider,
		resolver: NewResolver(client, provider, logger),
		streamer: streamer,
		logger:   logger,
	}
}

// Name returns the source name.
func (s *Source) Name() string { return SourceName }

// Provider returns the selected provider, NoProvider when discovery failed.
func (s *Source) Provider() Provider { return s.provider }

// Ready reports whether a provider was selected.
func (s *Source) Ready() bool { return s.provider.Valid() }

// LoadItem resolves a raw identifier.
func (s *Source) LoadItem(ctx context.Context, identifier string) (LoadResult, error) {
	return s.resolver.LoadItem(ctx, identifier)
}

// TrackByID fetches one track by upstream id.
func (s *Source) TrackByID(ctx context.Context, id string) (LoadResult, error) {
	return s.resolver.TrackByID(ctx, id)
}

// StreamHandle returns the lazy stream handle of track, bound to the current provider.
func (s *Source) StreamHandle(track Track) *StreamHandle {
	return &StreamHandle{
		trackID:  track.ID(),
		provider: s.provider,
		client:   s.client,
		streamer: s.streamer,
		logger:   s.logger,
	}
}

// encodedTrack is the persisted form of a track handle.
type encodedTrack struct {
	Version    int    `json:"v"`
	Source     string `json:"source"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	LengthMs   int64  `json:"length_ms"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artwork_url,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
}

// EncodeTrack serializes a track so the host can persist it across process boundaries.
func (s *Source) EncodeTrack(track Track) (string, error) {
	info := track.Info()
	lengthMs := int64(-1)
	if info.Duration != DurationUnknown {
		lengthMs = info.Duration.Milliseconds()
	}
	b, err := json.Marshal(encodedTrack{
		Version:    encodingVersion,
		Source:     SourceName,
		ID:         info.ID,
		Title:      info.Title,
		Author:     info.Author,
		LengthMs:   lengthMs,
		URI:        info.URI,
		ArtworkURL: info.ArtworkURL,
		ISRC:       info.ISRC,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode track %s: %w", info.ID, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeTrack restores a track produced by EncodeTrack. The result is validated again.
func (s *Source) DecodeTrack(encoded string) (Track, error) {
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Track{}, fmt.Errorf("failed to decode track: %w", err)
	}
	var et encodedTrack
	if err := json.Unmarshal(b, &et); err != nil {
		return Track{}, fmt.Errorf("failed to decode track: %w", err)
	}
	if et.Version != encodingVersion || et.Source != SourceName {
		return Track{}, fmt.Errorf("failed to decode track: unsupported encoding %s/v%d", et.Source, et.Version)
	}

	duration := DurationUnknown
	if et.LengthMs >= 0 {
		duration = time.Duration(et.LengthMs) * time.Millisecond
	}
	return NewTrack(TrackInfo{
		ID:         et.ID,
		Title:      et.Title,
		Author:     et.Author,
		Duration:   duration,
		URI:        et.URI,
		ArtworkURL: et.ArtworkURL,
		ISRC:       et.ISRC,
	})
}
