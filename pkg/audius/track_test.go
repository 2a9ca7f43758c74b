package audius

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewTrack_RequiresIdentity(t *testing.T) {
	tests := []struct {
		name      string
		info      TrackInfo
		wantField string
	}{
		{"Missing id", TrackInfo{Title: "t", URI: "u"}, "id"},
		{"Missing title", TrackInfo{ID: "1", URI: "u"}, "title"},
		{"Missing permalink", TrackInfo{ID: "1", Title: "t"}, "permalink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			track, err := NewTrack(tt.info)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("NewTrack() error = %v, want *ValidationError", err)
			}
			if vErr.Field != tt.wantField {
				t.Errorf("ValidationError.Field = %q, want %q", vErr.Field, tt.wantField)
			}
			if track.ID() != "" {
				t.Errorf("NewTrack() leaked a partially populated track: %+v", track.Info())
			}
		})
	}
}

func TestNewTrack_DefaultsAuthor(t *testing.T) {
	track, err := NewTrack(TrackInfo{ID: "1", Title: "t", URI: "/a/t"})
	if err != nil {
		t.Fatalf("NewTrack() error = %v", err)
	}
	if track.Author() != UnknownArtist {
		t.Errorf("Author() = %q, want %q", track.Author(), UnknownArtist)
	}
}

func TestTrackObject_ToTrack(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantDuration time.Duration
		wantAuthor   string
		wantArtwork  string
	}{
		{
			name:         "Full object",
			raw:          `{"id":"D7KyD","title":"Song","permalink":"/artist/song","duration":215,"user":{"name":"Artist"},"artwork":{"150x150":"a","480x480":"b"}}`,
			wantDuration: 215 * time.Second,
			wantAuthor:   "Artist",
			wantArtwork:  "b",
		},
		{
			name:         "Artwork falls back to 1000x1000",
			raw:          `{"id":"1","title":"Song","permalink":"/p","duration":"30","artwork":{"480x480":"","1000x1000":"c"}}`,
			wantDuration: 30 * time.Second,
			wantAuthor:   UnknownArtist,
			wantArtwork:  "c",
		},
		{
			name:         "Missing duration is unknown",
			raw:          `{"id":"1","title":"Song","permalink":"/p","user":{"name":""}}`,
			wantDuration: DurationUnknown,
			wantAuthor:   UnknownArtist,
		},
		{
			name:         "Negative duration is unknown",
			raw:          `{"id":"1","title":"Song","permalink":"/p","duration":-1}`,
			wantDuration: DurationUnknown,
			wantAuthor:   UnknownArtist,
		},
		{
			name:         "Non-numeric duration is unknown",
			raw:          `{"id":"1","title":"Song","permalink":"/p","duration":"long"}`,
			wantDuration: DurationUnknown,
			wantAuthor:   UnknownArtist,
		},
		{
			name:         "Huge duration is unknown",
			raw:          `{"id":"1","title":"Song","permalink":"/p","duration":1e10}`,
			wantDuration: DurationUnknown,
			wantAuthor:   UnknownArtist,
		},
		{
			name:         "Huge string duration is unknown",
			raw:          `{"id":"1","title":"Song","permalink":"/p","duration":"1e12"}`,
			wantDuration: DurationUnknown,
			wantAuthor:   UnknownArtist,
		},
		{
			name:         "Fractional seconds keep millisecond precision",
			raw:          `{"id":"1","title":"Song","permalink":"/p","duration":1.5}`,
			wantDuration: 1500 * time.Millisecond,
			wantAuthor:   UnknownArtist,
		},
		{
			name:         "Loose user and artwork types are tolerated",
			raw:          `{"id":42,"title":"Song","permalink":"/p","duration":0,"user":"someone","artwork":"x"}`,
			wantDuration: 0,
			wantAuthor:   UnknownArtist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := decodeTrackObject(json.RawMessage(tt.raw))
			if err != nil {
				t.Fatalf("decodeTrackObject() error = %v", err)
			}
			track, err := obj.toTrack()
			if err != nil {
				t.Fatalf("toTrack() error = %v", err)
			}
			if track.Duration() != tt.wantDuration {
				t.Errorf("Duration() = %v, want %v", track.Duration(), tt.wantDuration)
			}
			if track.Author() != tt.wantAuthor {
				t.Errorf("Author() = %q, want %q", track.Author(), tt.wantAuthor)
			}
			if track.ArtworkURL() != tt.wantArtwork {
				t.Errorf("ArtworkURL() = %q, want %q", track.ArtworkURL(), tt.wantArtwork)
			}
			if track.Info().ISRC != "" {
				t.Errorf("ISRC = %q, want empty", track.Info().ISRC)
			}
		})
	}
}

func TestDecodeTrackObject_RejectsEntriesWithoutID(t *testing.T) {
	inputs := []string{`null`, `"abc"`, `[]`, `{}`, `{"id":""}`, `{"id":null,"title":"x"}`}
	for _, in := range inputs {
		if _, err := decodeTrackObject(json.RawMessage(in)); err == nil {
			t.Errorf("decodeTrackObject(%s) succeeded, want error", in)
		}
	}
}
