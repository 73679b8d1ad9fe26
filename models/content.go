package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ContentKind discriminates the message content union.
type ContentKind string

const (
	// KindText is literal chat text.
	KindText ContentKind = "text"
	// KindLocation is a shared latitude/longitude.
	KindLocation ContentKind = "location"
	// KindAlbumShare references a private album the peer was granted access to.
	KindAlbumShare ContentKind = "album_share"
)

// Location is a point shared from the sender's device.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// AlbumShare references a private album.
type AlbumShare struct {
	AlbumID   string `json:"albumId"`
	AlbumName string `json:"albumName"`
}

// Content is the decoded form of a message content field.
//
// Exactly one of Text, Location or Album is meaningful, selected by Kind.
type Content struct {
	Kind     ContentKind
	Text     string
	Location *Location
	Album    *AlbumShare
}

// wirePayload is the serialized shape of structured content.
type wirePayload struct {
	Type      ContentKind `json:"type"`
	Lat       *float64    `json:"lat,omitempty"`
	Lng       *float64    `json:"lng,omitempty"`
	AlbumID   string      `json:"albumId,omitempty"`
	AlbumName string      `json:"albumName,omitempty"`
}

// PlainText builds text content.
func PlainText(text string) Content {
	return Content{Kind: KindText, Text: text}
}

// LocationShare builds location content.
func LocationShare(loc Location) Content {
	return Content{Kind: KindLocation, Location: &loc}
}

// AlbumShareContent builds album share content.
func AlbumShareContent(albumID, albumName string) Content {
	return Content{Kind: KindAlbumShare, Album: &AlbumShare{AlbumID: albumID, AlbumName: albumName}}
}

// ParseContent decodes a stored content string.
//
// Anything that is not a JSON object with a known discriminator and its required
// fields stays plain text, so previously stored payloads keep rendering.
func ParseContent(raw string) Content {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return PlainText(raw)
	}

	var payload wirePayload
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return PlainText(raw)
	}

	switch payload.Type {
	case KindLocation:
		if payload.Lat == nil || payload.Lng == nil {
			return PlainText(raw)
		}
		return LocationShare(Location{Latitude: *payload.Lat, Longitude: *payload.Lng})
	case KindAlbumShare:
		if payload.AlbumID == "" {
			return PlainText(raw)
		}
		return AlbumShareContent(payload.AlbumID, payload.AlbumName)
	default:
		return PlainText(raw)
	}
}

// Structured reports whether the content is a non-text payload.
func (c Content) Structured() bool {
	return c.Kind == KindLocation || c.Kind == KindAlbumShare
}

// Encode serializes the content for the message content field.
func (c Content) Encode() (string, error) {
	switch c.Kind {
	case KindText, "":
		return c.Text, nil
	case KindLocation:
		if c.Location == nil {
			return "", errors.New("location content requires coordinates")
		}
		if err := c.Location.Validate(); err != nil {
			return "", err
		}
		lat, lng := c.Location.Latitude, c.Location.Longitude
		return marshalPayload(wirePayload{Type: KindLocation, Lat: &lat, Lng: &lng})
	case KindAlbumShare:
		if c.Album == nil || c.Album.AlbumID == "" {
			return "", errors.New("album share content requires an album ID")
		}
		return marshalPayload(wirePayload{Type: KindAlbumShare, AlbumID: c.Album.AlbumID, AlbumName: c.Album.AlbumName})
	default:
		return "", fmt.Errorf("unknown content kind %q", c.Kind)
	}
}

// Preview renders a short human-readable summary for notifications.
func (c Content) Preview() string {
	switch c.Kind {
	case KindLocation:
		return "📍 Shared a location"
	case KindAlbumShare:
		if c.Album != nil && c.Album.AlbumName != "" {
			return "🖼️ Shared the album " + c.Album.AlbumName
		}
		return "🖼️ Shared an album"
	default:
		return truncateRunes(c.Text, 120)
	}
}

// Validate checks coordinate ranges.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", l.Longitude)
	}
	return nil
}

func marshalPayload(p wirePayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", p.Type, err)
	}
	return string(raw), nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
