package audius

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// SearchPrefix marks an identifier as a free-text search.
const SearchPrefix = "audsearch:"

// RefKind is the classification of a raw identifier.
type RefKind int

const (
	// RefUnrecognized is an identifier this source does not handle.
	RefUnrecognized RefKind = iota
	// RefSearch is a free-text search query.
	RefSearch
	// RefTrack is a generic two-segment resource URL, resolved as a track.
	RefTrack
	// RefPlaylist is a playlist URL.
	RefPlaylist
	// RefAlbum is an album URL.
	RefAlbum
)

func (k RefKind) String() string {
	switch k {
	case RefSearch:
		return "search"
	case RefTrack:
		return "track"
	case RefPlaylist:
		return "playlist"
	case RefAlbum:
		return "album"
	default:
		return "unrecognized"
	}
}

// Reference is a classified identifier.
type Reference struct {
	Kind  RefKind
	Query string // Set for RefSearch; may be empty.
	URL   string // Set for URL kinds.
}

var (
	albumURLRegex    = regexp.MustCompile(`^https?://(?:www\.)?audius\.co/([^/]+)/album/([^/]+)(?:/.*)?$`)
	playlistURLRegex = regexp.MustCompile(`^https?://(?:www\.)?audius\.co/([^/]+)/playlist/([^/]+)(?:/.*)?$`)
	resourceURLRegex = regexp.MustCompile(`^https?://(?:www\.)?audius\.co/([^/]+)/([^/]+)(?:/.*)?$`)
)

// referenceRule maps an identifier to a Reference when it matches.
type referenceRule func(identifier string) (Reference, bool)

// referenceRules are evaluated in order, first match wins. Album and playlist
// URLs also match the generic resource shape, so they must come first.
var referenceRules = []referenceRule{
	matchSearch,
	matchURL(albumURLRegex, RefAlbum),
	matchURL(playlistURLRegex, RefPlaylist),
	matchURL(resourceURLRegex, RefTrack),
}

// Classify turns a raw identifier into a Reference. It never fails.
func Classify(identifier string) Reference {
	for _, rule := range referenceRules {
		if ref, ok := rule(identifier); ok {
			return ref
		}
	}
	return Reference{Kind: RefUnrecognized}
}

func matchSearch(identifier string) (Reference, bool) {
	if !strings.HasPrefix(identifier, SearchPrefix) {
		return Reference{}, false
	}
	query := strings.TrimSpace(norm.NFC.String(identifier[len(SearchPrefix):]))
	return Reference{Kind: RefSearch, Query: query}, true
}

func matchURL(pattern *regexp.Regexp, kind RefKind) referenceRule {
	return func(identifier string) (Reference, bool) {
		if !pattern.MatchString(identifier) {
			return Reference{}, false
		}
		return Reference{Kind: kind, URL: identifier}, true
	}
}
