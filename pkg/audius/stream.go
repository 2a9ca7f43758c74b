package audius

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// StreamHandle lazily resolves the playable media of one track. Every Open performs a
// fresh stream lookup because the media URLs handed out by the upstream are short-lived.
type StreamHandle struct {
	trackID  string
	provider Provider
	client   *Client
	streamer *HTTPStreamer
	logger   *zap.Logger
}

// TrackID returns the id of the track this handle streams.
func (h *StreamHandle) TrackID() string { return h.trackID }

// Provider returns the provider the handle was bound to at creation.
func (h *StreamHandle) Provider() Provider { return h.provider }

// Clone returns a handle for the same track and provider, for requeueing by the host.
func (h *StreamHandle) Clone() *StreamHandle {
	clone := *h
	return &clone
}

// MediaURL asks the upstream for the current, directly fetchable media URL.
func (h *StreamHandle) MediaURL(ctx context.Context) (string, error) {
	if !h.provider.Valid() {
		h.logger.Error("Cannot fetch stream URL, discovery provider not available",
			zap.String("track_id", h.trackID))
		return "", ErrNotInitialized
	}

	reqURL := h.client.apiURL(h.provider, "/v1/tracks/"+url.PathEscape(h.trackID)+"/stream",
		url.Values{"no_redirect": {"true"}})
	data, err := h.client.get(ctx, "stream", h.trackID, reqURL)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w for track %s", ErrNoStream, h.trackID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up stream for track %s: %w", h.trackID, err)
	}

	var mediaURL string
	if err := json.Unmarshal(data, &mediaURL); err != nil {
		return "", &ProtocolError{URL: reqURL, Message: "stream data is not a URL string", Malformed: true}
	}
	if mediaURL == "" {
		return "", fmt.Errorf("%w for track %s", ErrNoStream, h.trackID)
	}
	return mediaURL, nil
}

// Open resolves the media URL and opens a seekable byte stream on it.
func (h *StreamHandle) Open(ctx context.Context) (*Stream, error) {
	h.logger.Info("Fetching Audius stream URL", zap.String("track_id", h.trackID))

	mediaURL, err := h.MediaURL(ctx)
	if err != nil {
		h.logger.Warn("Could not get Audius stream URL", zap.String("track_id", h.trackID), zap.Error(err))
		return nil, err
	}

	h.logger.Debug("Opening Audius media stream",
		zap.String("track_id", h.trackID), zap.String("media_url", mediaURL))

	stream, err := h.streamer.Open(ctx, mediaURL)
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			return nil, fmt.Errorf("failed to open stream for track %s: %w", h.trackID, err)
		}
		return nil, &TransportError{ID: h.trackID, Err: err}
	}
	return stream, nil
}
