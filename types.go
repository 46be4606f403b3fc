package zenllm

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind identifies the variant carried by a ContentPart.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// ImageData holds an image either inline (Data + MediaType) or by reference (URL).
type ImageData struct {
	Data      []byte
	MediaType string
	URL       string
	Detail    string
}

// ContentPart is one unit of message content: text or an image.
type ContentPart struct {
	Kind  ContentKind
	Text  string
	Image *ImageData
}

// Text creates a text content part.
func Text(s string) ContentPart {
	return ContentPart{Kind: ContentText, Text: s}
}

// ImageBytes creates an inline image part. mediaType may be empty, in which
// case it is sniffed from the bytes.
func ImageBytes(data []byte, mediaType string) ContentPart {
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return ContentPart{Kind: ContentImage, Image: &ImageData{Data: data, MediaType: mediaType}}
}

// ImageURL creates an image part referencing a remote URL.
func ImageURL(url string) ContentPart {
	return ContentPart{Kind: ContentImage, Image: &ImageData{URL: url}}
}

// ImageFile reads an image from disk and creates an inline image part.
// The media type is guessed from the file extension, falling back to
// content sniffing.
func ImageFile(path string) (ContentPart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ContentPart{}, &InvalidRequestError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "failed to read image file", Cause: err},
		}}
	}
	mediaType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return ContentPart{Kind: ContentImage, Image: &ImageData{Data: data, MediaType: mediaType}}, nil
}

// Message is one conversation turn.
type Message struct {
	Role    Role
	Content []ContentPart
}

// SystemMessage creates a system message from plain text.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{Text(text)}}
}

// UserMessage creates a user message from plain text.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{Text(text)}}
}

// UserParts creates a user message from explicit content parts.
func UserParts(parts ...ContentPart) Message {
	return Message{Role: RoleUser, Content: parts}
}

// AssistantMessage creates an assistant message from plain text.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{Text(text)}}
}

// TextContent concatenates all text parts of the message.
func (m Message) TextContent() string {
	var b strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// ResponseFormat requests structured output where the provider supports it.
type ResponseFormat struct {
	Type       string // "json" or "json_schema"
	Name       string
	JSONSchema map[string]interface{}
	Strict     bool
}

// Request is the provider-agnostic request handed to an adapter.
type Request struct {
	Model          string
	Messages       []Message
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StopSequences  []string
	ResponseFormat *ResponseFormat

	// ProviderOptions are merged verbatim into the provider request body,
	// keyed by adapter name.
	ProviderOptions map[string]interface{}
}

// Usage reports token consumption for a response. Estimated is set when the
// counts were approximated from character counts rather than reported by the
// provider.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	ReasoningTokens *int
	CacheReadTokens *int
	Estimated       bool
	Raw             map[string]interface{}
}

// FinishReason describes why generation stopped. Reason is normalized to one
// of "stop", "length", "content_filter", "error", or "other"; Raw preserves
// the provider's original value.
type FinishReason struct {
	Reason string
	Raw    string
}

// RateLimitInfo captures rate limit headers returned by a provider.
type RateLimitInfo struct {
	RequestsRemaining *int
	RequestsLimit     *int
	TokensRemaining   *int
	TokensLimit       *int
	ResetAt           *time.Time
}

// Response is the normalized terminal result of a call. It is created once
// and never mutated afterward.
type Response struct {
	ID           string
	Provider     string
	Model        string
	Message      Message
	FinishReason FinishReason
	Usage        Usage
	Raw          map[string]interface{}
	RateLimit    *RateLimitInfo
}

// Text concatenates the text parts of the response in arrival order.
func (r *Response) Text() string {
	return r.Message.TextContent()
}

// Parts returns the ordered content parts of the response.
func (r *Response) Parts() []ContentPart {
	return r.Message.Content
}

// Images returns the image parts of the response, filtered from Parts.
func (r *Response) Images() []ImageData {
	var images []ImageData
	for _, part := range r.Message.Content {
		if part.Kind == ContentImage && part.Image != nil {
			images = append(images, *part.Image)
		}
	}
	return images
}

// Cost estimates the cost of this response from the pricing catalog.
// Returns nil when the model has no known pricing.
func (r *Response) Cost() *CostEstimate {
	return EstimateCost(r.Model, r.Provider, r.Usage)
}
