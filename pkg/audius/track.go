package audius

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// UnknownArtist is used when the upstream omits the uploader name.
	UnknownArtist = "Unknown Artist"
	// UnknownPlaylist is the fallback playlist title.
	UnknownPlaylist = "Unknown Playlist"
	// UnknownAlbum is the fallback album title.
	UnknownAlbum = "Unknown Album"
	// DurationUnknown marks a track whose length the upstream did not report.
	DurationUnknown = time.Duration(math.MaxInt64)
	// searchResultsPrefix prefixes the display name of a search result set.
	searchResultsPrefix = "Audius search results for: "
)

// artworkSizes lists the artwork keys in order of preference.
var artworkSizes = []string{"480x480", "150x150", "1000x1000"}

// TrackInfo holds the normalized metadata of a resolved track.
type TrackInfo struct {
	ID         string        // Opaque upstream identifier.
	Title      string        // Track title.
	Author     string        // Uploader display name.
	Duration   time.Duration // Length, DurationUnknown when not reported.
	URI        string        // Canonical permalink.
	ArtworkURL string        // Optional artwork URL.
	ISRC       string        // Never reported by Audius.
}

// Track is an immutable, validated track. The zero value is not a valid track.
type Track struct {
	info TrackInfo
}

// NewTrack validates info and returns a Track. ID, Title and URI are required.
func NewTrack(info TrackInfo) (Track, error) {
	switch {
	case info.ID == "":
		return Track{}, &ValidationError{Field: "id"}
	case info.Title == "":
		return Track{}, &ValidationError{ID: info.ID, Field: "title"}
	case info.URI == "":
		return Track{}, &ValidationError{ID: info.ID, Field: "permalink"}
	}
	if info.Author == "" {
		info.Author = UnknownArtist
	}
	return Track{info: info}, nil
}

// Info returns a copy of the track metadata.
func (t Track) Info() TrackInfo { return t.info }

// ID returns the upstream identifier used for streaming.
func (t Track) ID() string { return t.info.ID }

// Title returns the track title.
func (t Track) Title() string { return t.info.Title }

// Author returns the uploader name.
func (t Track) Author() string { return t.info.Author }

// Duration returns the track length or DurationUnknown.
func (t Track) Duration() time.Duration { return t.info.Duration }

// URI returns the canonical permalink.
func (t Track) URI() string { return t.info.URI }

// ArtworkURL returns the preferred artwork URL, if any.
func (t Track) ArtworkURL() string { return t.info.ArtworkURL }

// CollectionKind distinguishes the origin of a Collection.
type CollectionKind int

const (
	// KindPlaylist is a user playlist.
	KindPlaylist CollectionKind = iota
	// KindAlbum is an album.
	KindAlbum
	// KindSearch is a search result set.
	KindSearch
)

func (k CollectionKind) String() string {
	switch k {
	case KindAlbum:
		return "album"
	case KindSearch:
		return "search"
	default:
		return "playlist"
	}
}

// Collection is an ordered group of tracks: a playlist, an album or a search result set.
type Collection struct {
	Name         string
	Kind         CollectionKind
	Tracks       []Track
	SearchResult bool
}

// LoadType tells the host what a lookup produced.
type LoadType int

const (
	// LoadNone means the reference is not handled by this source.
	LoadNone LoadType = iota
	// LoadEmpty means the reference is ours but nothing matched.
	LoadEmpty
	// LoadTrack means a single track was resolved.
	LoadTrack
	// LoadCollection means a playlist, album or search result set was resolved.
	LoadCollection
)

func (t LoadType) String() string {
	switch t {
	case LoadEmpty:
		return "empty"
	case LoadTrack:
		return "track"
	case LoadCollection:
		return "collection"
	default:
		return "none"
	}
}

// LoadResult is the outcome of a lookup.
type LoadResult struct {
	Type       LoadType
	Track      *Track
	Collection *Collection
}

var (
	noneResult  = LoadResult{Type: LoadNone}
	emptyResult = LoadResult{Type: LoadEmpty}
)

func trackResult(t Track) LoadResult {
	return LoadResult{Type: LoadTrack, Track: &t}
}

func collectionResult(c *Collection) LoadResult {
	return LoadResult{Type: LoadCollection, Collection: c}
}

// looseString accepts a JSON string or number; anything else decodes to "".
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err == nil {
		*s = looseString(b)
		return nil
	}
	*s = ""
	return nil
}

// maxDurationSeconds is the longest duration representable as a time.Duration.
const maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// looseSeconds decodes a duration reported in seconds as a number or numeric string.
// Missing, non-numeric, negative and out-of-range values decode as unknown.
type looseSeconds struct {
	seconds float64
	valid   bool
}

func (d *looseSeconds) UnmarshalJSON(b []byte) error {
	*d = looseSeconds{}
	raw := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > maxDurationSeconds || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	d.seconds, d.valid = v, true
	return nil
}

func (d looseSeconds) duration() time.Duration {
	if !d.valid {
		return DurationUnknown
	}
	return time.Duration(math.Round(d.seconds*1000)) * time.Millisecond
}

// looseBool accepts true, "true" and 1 as true; anything else decodes to false.
type looseBool bool

func (v *looseBool) UnmarshalJSON(b []byte) error {
	switch strings.ToLower(strings.Trim(string(bytes.TrimSpace(b)), `"`)) {
	case "true", "1":
		*v = true
	default:
		*v = false
	}
	return nil
}

// trackObject is the subset of the upstream track object this package consumes.
type trackObject struct {
	ID        looseString   `json:"id"`
	Title     looseString   `json:"title"`
	Permalink looseString   `json:"permalink"`
	Duration  looseSeconds  `json:"duration"`
	User      *userObject   `json:"user"`
	Artwork   artworkObject `json:"artwork"`
}

type userObject struct {
	Name looseString `json:"name"`
}

// UnmarshalJSON tolerates a user field that is not an object.
func (u *userObject) UnmarshalJSON(b []byte) error {
	var v struct {
		Name looseString `json:"name"`
	}
	if err := json.Unmarshal(b, &v); err != nil {
		*u = userObject{}
		return nil
	}
	u.Name = v.Name
	return nil
}

type artworkObject map[string]json.RawMessage

// UnmarshalJSON tolerates an artwork field that is not an object.
func (a *artworkObject) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		*a = nil
		return nil
	}
	*a = m
	return nil
}

// collectionObject is the subset of the upstream playlist object this package consumes.
type collectionObject struct {
	ID           looseString  `json:"id"`
	PlaylistName *looseString `json:"playlist_name"`
	Permalink    looseString  `json:"permalink"`
	IsAlbum      looseBool    `json:"is_album"`
}

// url picks the first non-empty artwork URL in preference order.
func (a artworkObject) url() string {
	for _, size := range artworkSizes {
		raw, ok := a[size]
		if !ok {
			continue
		}
		var v looseString
		if err := json.Unmarshal(raw, &v); err != nil {
			continue
		}
		if v != "" {
			return string(v)
		}
	}
	return ""
}

// toTrack converts the upstream object into a validated Track.
func (o *trackObject) toTrack() (Track, error) {
	author := ""
	if o.User != nil {
		author = string(o.User.Name)
	}
	return NewTrack(TrackInfo{
		ID:         string(o.ID),
		Title:      string(o.Title),
		Author:     author,
		Duration:   o.Duration.duration(),
		URI:        string(o.Permalink),
		ArtworkURL: o.Artwork.url(),
	})
}

// decodeTrackObject decodes a single JSON track object. It rejects non-objects and entries without an id.
func decodeTrackObject(raw json.RawMessage) (*trackObject, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, &ValidationError{Field: "id"}
	}
	var obj trackObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	if obj.ID == "" {
		return nil, &ValidationError{Field: "id"}
	}
	return &obj, nil
}
