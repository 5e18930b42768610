// Package codec converts message content between its typed in-memory form
// and the flat (tag, string) pair persisted in a message record. It is the
// only place that knows per-kind field layout; every other component
// treats content as an opaque string.
package codec

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Kind tags the content variant of a message record.
type Kind string

const (
	KindText           Kind = "text"
	KindAttributedText Kind = "attributed_text"
	KindPhoto          Kind = "photo"
	KindVideo          Kind = "video"
	KindLocation       Kind = "location"
	KindEmoji          Kind = "emoji"
	KindAudio          Kind = "audio"
	KindContact        Kind = "contact"
	KindLink           Kind = "link"
	KindCustom         Kind = "custom"
)

var (
	// ErrMalformedURL is returned when a photo/video record does not
	// carry an absolute URL.
	ErrMalformedURL = errors.New("codec: malformed media url")
	// ErrMalformedLocation is returned when a location record does not
	// carry two parseable coordinates.
	ErrMalformedLocation = errors.New("codec: malformed location")
	// ErrUnknownKind is returned for a tag outside the enumeration.
	ErrUnknownKind = errors.New("codec: unknown content kind")
)

// Content is the tagged union of message payloads.
type Content interface {
	Kind() Kind
	isContent()
}

// Text is a plain text payload.
type Text struct {
	Body string
}

// Photo is an already-uploaded image, referenced by absolute URL.
type Photo struct {
	URL string
}

// Video is an already-uploaded video, referenced by absolute URL.
type Video struct {
	URL string
}

// Location is a pair of map coordinates.
type Location struct {
	Longitude float64
	Latitude  float64
}

// Placeholder stands in for the enumerated kinds that carry no payload
// behavior yet. Decoding one of their tags yields a Placeholder with
// empty content.
type Placeholder struct {
	Tag Kind
}

func (Text) Kind() Kind          { return KindText }
func (Photo) Kind() Kind         { return KindPhoto }
func (Video) Kind() Kind         { return KindVideo }
func (Location) Kind() Kind      { return KindLocation }
func (p Placeholder) Kind() Kind { return p.Tag }

func (Text) isContent()        {}
func (Photo) isContent()       {}
func (Video) isContent()       {}
func (Location) isContent()    {}
func (Placeholder) isContent() {}

// Encode flattens content into the (tag, string) pair stored in a message
// record. Pure; never fails.
func Encode(c Content) (Kind, string) {
	switch v := c.(type) {
	case Text:
		return KindText, v.Body
	case Photo:
		return KindPhoto, v.URL
	case Video:
		return KindVideo, v.URL
	case Location:
		return KindLocation, formatCoord(v.Longitude) + "," + formatCoord(v.Latitude)
	default:
		return c.Kind(), ""
	}
}

// Decode rebuilds typed content from a stored (tag, string) pair.
func Decode(tag Kind, flat string) (Content, error) {
	switch tag {
	case KindText:
		return Text{Body: flat}, nil
	case KindPhoto:
		if !isAbsoluteURL(flat) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedURL, flat)
		}
		return Photo{URL: flat}, nil
	case KindVideo:
		if !isAbsoluteURL(flat) {
			return nil, fmt.Errorf("%w: %q", ErrMalformedURL, flat)
		}
		return Video{URL: flat}, nil
	case KindLocation:
		parts := strings.Split(flat, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: %q", ErrMalformedLocation, flat)
		}
		long, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: longitude %q", ErrMalformedLocation, parts[0])
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: latitude %q", ErrMalformedLocation, parts[1])
		}
		return Location{Longitude: long, Latitude: lat}, nil
	case KindAttributedText, KindEmoji, KindAudio, KindContact, KindLink, KindCustom:
		return Placeholder{Tag: tag}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, tag)
	}
}

// Preview returns the flat content string used in latest-message
// summaries.
func Preview(c Content) string {
	_, flat := Encode(c)
	return flat
}

func isAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}

// formatCoord renders a coordinate with at least one fractional digit so
// integral values round-trip as "10.0" rather than "10".
func formatCoord(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
