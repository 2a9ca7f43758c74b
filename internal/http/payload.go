package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"audiussource/pkg/audius"
)

// Load types reported by /v1/loadtracks.
const (
	loadTypeNone     = "none"
	loadTypeEmpty    = "empty"
	loadTypeTrack    = "track"
	loadTypePlaylist = "playlist"
	loadTypeAlbum    = "album"
	loadTypeSearch   = "search"
	loadTypeError    = "error"
)

// Error severities.
const (
	severityCommon     = "common"
	severitySuspicious = "suspicious"
	severityFault      = "fault"
)

type trackInfoPayload struct {
	Identifier string `json:"identifier"`
	Title      string `json:"title"`
	Author     string `json:"author"`
	LengthMs   int64  `json:"lengthMs"` // -1 when unknown
	IsStream   bool   `json:"isStream"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl,omitempty"`
	ISRC       string `json:"isrc,omitempty"`
	SourceName string `json:"sourceName"`
}

type trackPayload struct {
	Encoded string           `json:"encoded"`
	Info    trackInfoPayload `json:"info"`
}

type collectionPayload struct {
	Name         string         `json:"name"`
	Kind         string         `json:"kind"`
	SearchResult bool           `json:"searchResult"`
	Tracks       []trackPayload `json:"tracks"`
}

type errorPayload struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Cause    string `json:"cause,omitempty"`
}

type loadResultPayload struct {
	LoadType string `json:"loadType"`
	Data     any    `json:"data"`
}

func (s *Server) newTrackPayload(track audius.Track) (trackPayload, error) {
	encoded, err := s.source.EncodeTrack(track)
	if err != nil {
		return trackPayload{}, err
	}

	info := track.Info()
	lengthMs := int64(-1)
	if info.Duration != audius.DurationUnknown {
		lengthMs = info.Duration.Milliseconds()
	}

	return trackPayload{
		Encoded: encoded,
		Info: trackInfoPayload{
			Identifier: info.ID,
			Title:      info.Title,
			Author:     info.Author,
			LengthMs:   lengthMs,
			URI:        info.URI,
			ArtworkURL: info.ArtworkURL,
			ISRC:       info.ISRC,
			SourceName: audius.SourceName,
		},
	}, nil
}

func (s *Server) newLoadResultPayload(result audius.LoadResult) (loadResultPayload, error) {
	switch result.Type {
	case audius.LoadTrack:
		track, err := s.newTrackPayload(*result.Track)
		if err != nil {
			return loadResultPayload{}, err
		}
		return loadResultPayload{LoadType: loadTypeTrack, Data: track}, nil

	case audius.LoadCollection:
		c := result.Collection
		tracks := make([]trackPayload, 0, len(c.Tracks))
		for _, t := range c.Tracks {
			track, err := s.newTrackPayload(t)
			if err != nil {
				return loadResultPayload{}, err
			}
			tracks = append(tracks, track)
		}

		loadType := loadTypePlaylist
		switch c.Kind {
		case audius.KindAlbum:
			loadType = loadTypeAlbum
		case audius.KindSearch:
			loadType = loadTypeSearch
		}
		return loadResultPayload{LoadType: loadType, Data: collectionPayload{
			Name:         c.Name,
			Kind:         c.Kind.String(),
			SearchResult: c.SearchResult,
			Tracks:       tracks,
		}}, nil

	case audius.LoadEmpty:
		return loadResultPayload{LoadType: loadTypeEmpty, Data: struct{}{}}, nil

	default:
		return loadResultPayload{LoadType: loadTypeNone, Data: struct{}{}}, nil
	}
}

// classifyError maps a source error to its severity and the HTTP status used outside /v1/loadtracks.
func classifyError(err error) (string, int) {
	var protoErr *audius.ProtocolError
	var transportErr *audius.TransportError
	var validationErr *audius.ValidationError

	switch {
	case errors.Is(err, audius.ErrNoStream):
		return severityCommon, http.StatusNotFound
	case errors.Is(err, audius.ErrUnknownResourceType):
		return severityCommon, http.StatusUnprocessableEntity
	case errors.As(err, &validationErr):
		return severityCommon, http.StatusBadGateway
	case errors.Is(err, audius.ErrNotInitialized):
		return severityFault, http.StatusServiceUnavailable
	case errors.As(err, &protoErr):
		return severitySuspicious, http.StatusBadGateway
	case errors.As(err, &transportErr):
		if errors.Is(err, context.DeadlineExceeded) {
			return severityFault, http.StatusGatewayTimeout
		}
		return severityFault, http.StatusBadGateway
	default:
		return severityFault, http.StatusInternalServerError
	}
}

func newErrorPayload(message string, err error) errorPayload {
	severity, _ := classifyError(err)
	return errorPayload{
		Message:  message,
		Severity: severity,
		Cause:    err.Error(),
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, err error) {
	_, status := classifyError(err)
	s.writeJSON(w, status, newErrorPayload(message, err))
}

func (s *Server) writeBadRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, errorPayload{Message: message, Severity: severityCommon})
}
