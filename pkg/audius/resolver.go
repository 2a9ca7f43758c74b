package audius

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
)

// Resolver materializes classified references into tracks and collections.
type Resolver struct {
	client   *Client
	provider Provider
	logger   *zap.Logger
}

// NewResolver creates a resolver bound to provider.
func NewResolver(client *Client, provider Provider, logger *zap.Logger) *Resolver {
	return &Resolver{
		client:   client,
		provider: provider,
		logger:   logger,
	}
}

// LoadItem classifies identifier and resolves it. Unrecognized identifiers yield a
// LoadNone result so the host can try other sources; not-found conditions yield LoadEmpty.
func (r *Resolver) LoadItem(ctx context.Context, identifier string) (LoadResult, error) {
	ref := Classify(identifier)
	if ref.Kind == RefUnrecognized {
		return noneResult, nil
	}

	if !r.provider.Valid() {
		r.logger.Warn("Audius discovery provider not available", zap.String("identifier", identifier))
		return LoadResult{}, ErrNotInitialized
	}

	r.logger.Info("Loading Audius reference",
		zap.String("kind", ref.Kind.String()),
		zap.String("identifier", identifier))

	switch ref.Kind {
	case RefSearch:
		return r.search(ctx, ref.Query)
	case RefAlbum:
		return r.loadCollection(ctx, ref.URL, KindAlbum)
	case RefPlaylist:
		return r.loadCollection(ctx, ref.URL, KindPlaylist)
	default:
		return r.loadTrack(ctx, ref.URL)
	}
}

// TrackByID fetches a single track by its upstream id.
func (r *Resolver) TrackByID(ctx context.Context, id string) (LoadResult, error) {
	if !r.provider.Valid() {
		return LoadResult{}, ErrNotInitialized
	}
	if id == "" {
		return emptyResult, nil
	}

	reqURL := r.client.apiURL(r.provider, "/v1/tracks/"+url.PathEscape(id), nil)
	data, err := r.client.get(ctx, "track", id, reqURL)
	if errors.Is(err, ErrNotFound) {
		return emptyResult, nil
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to fetch track %s: %w", id, err)
	}

	obj, err := decodeTrackObject(data)
	if err != nil {
		return LoadResult{}, &ProtocolError{URL: reqURL, Message: "track response is missing id", Malformed: true}
	}
	track, err := obj.toTrack()
	if err != nil {
		return LoadResult{}, err
	}
	return trackResult(track), nil
}

func (r *Resolver) resolveURL(ctx context.Context, rawURL string) (json.RawMessage, string, error) {
	reqURL := r.client.apiURL(r.provider, "/v1/resolve", url.Values{"url": {rawURL}})
	data, err := r.client.get(ctx, "resolve", rawURL, reqURL)
	return data, reqURL, err
}

func (r *Resolver) loadTrack(ctx context.Context, rawURL string) (LoadResult, error) {
	data, reqURL, err := r.resolveURL(ctx, rawURL)
	if errors.Is(err, ErrNotFound) {
		r.logger.Info("Audius URL did not resolve", zap.String("url", rawURL))
		return emptyResult, nil
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to load Audius URL %s: %w", rawURL, err)
	}

	obj, err := decodeTrackObject(firstElement(data))
	if err != nil {
		r.logger.Warn("Audius resolve response has no resource id",
			zap.String("url", rawURL), zap.ByteString("data", data))
		return LoadResult{}, &ProtocolError{URL: reqURL, Message: "invalid data structure after resolution", Malformed: true}
	}

	if obj.Title == "" {
		r.logger.Warn("Resolved Audius resource is not a track",
			zap.String("url", rawURL), zap.String("resource_id", string(obj.ID)))
		return LoadResult{}, fmt.Errorf("%w: %s resolved to resource %s", ErrUnknownResourceType, rawURL, obj.ID)
	}

	track, err := obj.toTrack()
	if err != nil {
		return LoadResult{}, err
	}
	r.logger.Info("Resolved Audius URL to track",
		zap.String("url", rawURL), zap.String("track_id", track.ID()))
	return trackResult(track), nil
}

func (r *Resolver) search(ctx context.Context, query string) (LoadResult, error) {
	if query == "" {
		return emptyResult, nil
	}

	reqURL := r.client.apiURL(r.provider, "/v1/tracks/search", url.Values{"query": {query}})
	data, err := r.client.get(ctx, "search", query, reqURL)
	if errors.Is(err, ErrNotFound) {
		return emptyResult, nil
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to search Audius for %q: %w", query, err)
	}

	tracks := r.buildTracks(data, zap.String("query", query))
	if len(tracks) == 0 {
		r.logger.Info("Audius search returned no usable tracks", zap.String("query", query))
		return emptyResult, nil
	}

	return collectionResult(&Collection{
		Name:         searchResultsPrefix + query,
		Kind:         KindSearch,
		Tracks:       tracks,
		SearchResult: true,
	}), nil
}

func (r *Resolver) loadCollection(ctx context.Context, rawURL string, kind CollectionKind) (LoadResult, error) {
	logger := r.logger.With(zap.String("url", rawURL), zap.String("kind", kind.String()))

	data, reqURL, err := r.resolveURL(ctx, rawURL)
	if errors.Is(err, ErrNotFound) {
		logger.Info("Audius collection URL did not resolve")
		return emptyResult, nil
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("failed to load Audius %s %s: %w", kind, rawURL, err)
	}

	var obj collectionObject
	if err := json.Unmarshal(firstElement(data), &obj); err != nil || obj.ID == "" || obj.PlaylistName == nil {
		logger.Warn("Audius collection response is missing id or name", zap.ByteString("data", data))
		return LoadResult{}, &ProtocolError{URL: reqURL, Message: "invalid collection structure in response", Malformed: true}
	}
	if kind == KindAlbum && !obj.IsAlbum {
		logger.Warn("Audius resource is not an album", zap.String("collection_id", string(obj.ID)))
		return LoadResult{}, &ProtocolError{URL: reqURL, Message: "resource is not an album"}
	}

	collection := &Collection{
		Name:   string(*obj.PlaylistName),
		Kind:   kind,
		Tracks: []Track{},
	}
	if collection.Name == "" {
		collection.Name = UnknownPlaylist
		if kind == KindAlbum {
			collection.Name = UnknownAlbum
		}
	}

	tracksURL := r.client.apiURL(r.provider, "/v1/playlists/"+url.PathEscape(string(obj.ID))+"/tracks", nil)
	members, err := r.client.get(ctx, "playlist_tracks", string(obj.ID), tracksURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return LoadResult{}, ctxErr
		}
		logger.Warn("Failed to fetch Audius collection tracks, returning it empty",
			zap.String("collection_id", string(obj.ID)), zap.Error(err))
		return collectionResult(collection), nil
	}

	collection.Tracks = r.buildTracks(members, zap.String("collection_id", string(obj.ID)))
	logger.Info("Loaded Audius collection",
		zap.String("name", collection.Name),
		zap.Int("tracks", len(collection.Tracks)))
	return collectionResult(collection), nil
}

// buildTracks converts every element of a JSON array independently. Elements that
// fail decoding or validation are logged and dropped.
func (r *Resolver) buildTracks(data json.RawMessage, field zap.Field) []Track {
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		r.logger.Warn("Audius response data is not a list", field, zap.Error(err))
		return []Track{}
	}

	tracks := make([]Track, 0, len(elements))
	for i, raw := range elements {
		obj, err := decodeTrackObject(raw)
		if err != nil {
			r.logger.Warn("Skipping invalid track entry", field, zap.Int("index", i), zap.Error(err))
			continue
		}
		track, err := obj.toTrack()
		if err != nil {
			r.logger.Warn("Skipping incomplete track", field, zap.Int("index", i), zap.Error(err))
			continue
		}
		tracks = append(tracks, track)
	}
	return tracks
}

// firstElement unwraps a JSON array to its first element; other values pass through.
func firstElement(data json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return data
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil || len(elements) == 0 {
		return nil
	}
	return elements[0]
}
