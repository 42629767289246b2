package embedding

import (
	"fmt"
	"time"
)

// ContentType partitions the index into independent per-type vector spaces.
type ContentType string

const (
	TypeEvent       ContentType = "event"
	TypeGeneralInfo ContentType = "general_info"
	TypeWorld       ContentType = "world"
	TypeGuide       ContentType = "guide"
	TypeCommunity   ContentType = "community"
	TypeCustom      ContentType = "custom"
)

// AllContentTypes lists every known content type, in a stable order.
func AllContentTypes() []ContentType {
	return []ContentType{
		TypeEvent,
		TypeGeneralInfo,
		TypeWorld,
		TypeGuide,
		TypeCommunity,
		TypeCustom,
	}
}

// ParseContentType validates a string against the known content types.
func ParseContentType(s string) (ContentType, error) {
	for _, ct := range AllContentTypes() {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// ContentSource is one indexed unit of text: a document chunk or one
// serialized event.
type ContentSource struct {
	Type      ContentType    `json:"type"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
