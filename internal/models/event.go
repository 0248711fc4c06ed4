package models

import (
	"encoding/json"
	"fmt"
)

// Event type discriminators as they appear on the wire.
const (
	EventText           = "text"
	EventThinking       = "thinking"
	EventResponseID     = "response_id"
	EventToolStatus     = "tool_status"
	EventMeta           = "meta"
	EventImageData      = "image_data"
	EventImage          = "image"
	EventError          = "error"
	EventStreamComplete = "stream-complete"
)

// StreamEvent is the closed set of events a chat stream carries. Vendor
// adapters produce text, thinking, response_id, tool_status, meta,
// image_data and error; the relay adds image, error and stream-complete.
// The interface is sealed: new kinds are added in this file only.
type StreamEvent interface {
	EventType() string
	streamEvent()
}

// TextDelta is an incremental piece of the assistant's answer.
type TextDelta struct {
	Content string `json:"content"`
}

// ThinkingDelta is an incremental piece of reasoning output.
type ThinkingDelta struct {
	Content string `json:"content"`
}

// ResponseIDEvent exposes the vendor response id for conversation continuation.
type ResponseIDEvent struct {
	ResponseID string `json:"responseId"`
}

// ToolStatusEvent reports progress of a server-side tool such as web search.
type ToolStatusEvent struct {
	Tool   string `json:"tool"`
	Status string `json:"status"`
}

// Usage is the cost summary of a completed turn. TotalCost is in dollars and
// excludes the image generation surcharge, which is applied at billing time.
type Usage struct {
	InputTokens       int     `json:"inputTokens"`
	OutputTokens      int     `json:"outputTokens"`
	ImageOutputTokens int     `json:"imageOutputTokens,omitempty"`
	WebSearchCount    int     `json:"webSearchCount,omitempty"`
	TotalCost         float64 `json:"totalCost"`
	DidGenerateImage  bool    `json:"didGenerateImage"`
}

// MetaEvent is the terminal usage report of the upstream turn.
type MetaEvent struct {
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
}

// ImageDataEvent carries a raw base64 image payload. Events sharing a
// GenerationID refine the same image; the last one wins.
type ImageDataEvent struct {
	GenerationID string `json:"generationId"`
	Data         string `json:"data"`
	MimeType     string `json:"mimeType"`
	Partial      bool   `json:"partial"`
}

// ImageEvent points at the durable copy of a generated image.
type ImageEvent struct {
	URL          string `json:"url"`
	GenerationID string `json:"generationId"`
}

// ErrorEvent is an in-band failure. PublicMessage is safe to show to users.
type ErrorEvent struct {
	PublicMessage string `json:"publicMessage"`
	Code          string `json:"code,omitempty"`
	GenerationID  string `json:"generationId,omitempty"`
}

// StreamCompleteEvent is the success sentinel, always the last frame.
type StreamCompleteEvent struct{}

func (TextDelta) EventType() string           { return EventText }
func (ThinkingDelta) EventType() string       { return EventThinking }
func (ResponseIDEvent) EventType() string     { return EventResponseID }
func (ToolStatusEvent) EventType() string     { return EventToolStatus }
func (MetaEvent) EventType() string           { return EventMeta }
func (ImageDataEvent) EventType() string      { return EventImageData }
func (ImageEvent) EventType() string          { return EventImage }
func (ErrorEvent) EventType() string          { return EventError }
func (StreamCompleteEvent) EventType() string { return EventStreamComplete }

func (TextDelta) streamEvent()           {}
func (ThinkingDelta) streamEvent()       {}
func (ResponseIDEvent) streamEvent()     {}
func (ToolStatusEvent) streamEvent()     {}
func (MetaEvent) streamEvent()           {}
func (ImageDataEvent) streamEvent()      {}
func (ImageEvent) streamEvent()          {}
func (ErrorEvent) streamEvent()          {}
func (StreamCompleteEvent) streamEvent() {}

// Each kind marshals flat, with the discriminator first.

func (e TextDelta) MarshalJSON() ([]byte, error) {
	type alias TextDelta
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventText, alias(e)})
}

func (e ThinkingDelta) MarshalJSON() ([]byte, error) {
	type alias ThinkingDelta
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventThinking, alias(e)})
}

func (e ResponseIDEvent) MarshalJSON() ([]byte, error) {
	type alias ResponseIDEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventResponseID, alias(e)})
}

func (e ToolStatusEvent) MarshalJSON() ([]byte, error) {
	type alias ToolStatusEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventToolStatus, alias(e)})
}

func (e MetaEvent) MarshalJSON() ([]byte, error) {
	type alias MetaEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventMeta, alias(e)})
}

func (e ImageDataEvent) MarshalJSON() ([]byte, error) {
	type alias ImageDataEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventImageData, alias(e)})
}

func (e ImageEvent) MarshalJSON() ([]byte, error) {
	type alias ImageEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventImage, alias(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type alias ErrorEvent
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{EventError, alias(e)})
}

func (e StreamCompleteEvent) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"` + EventStreamComplete + `"}`), nil
}

// DecodeEvent parses one frame back into its concrete event.
func DecodeEvent(data []byte) (StreamEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event type: %w", err)
	}

	var (
		ev  StreamEvent
		err error
	)
	switch head.Type {
	case EventText:
		var e TextDelta
		err = json.Unmarshal(data, &e)
		ev = e
	case EventThinking:
		var e ThinkingDelta
		err = json.Unmarshal(data, &e)
		ev = e
	case EventResponseID:
		var e ResponseIDEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventToolStatus:
		var e ToolStatusEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventMeta:
		var e MetaEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventImageData:
		var e ImageDataEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventImage:
		var e ImageEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventError:
		var e ErrorEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case EventStreamComplete:
		ev = StreamCompleteEvent{}
	default:
		return nil, fmt.Errorf("unknown event type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return ev, nil
}
