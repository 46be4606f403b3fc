package zenllm

// EventKind identifies the variant of a caller-visible stream event.
type EventKind string

const (
	EventText  EventKind = "text"
	EventImage EventKind = "image"
)

// Event is one incremental unit of streamed output.
type Event struct {
	Kind  EventKind
	Text  string
	Image *ImageData
}

// StreamEventType identifies the variant of an adapter-level stream event.
type StreamEventType int

const (
	// StreamStart marks the first frame received from the transport. It may
	// carry partial usage (e.g. Anthropic reports input tokens up front).
	StreamStart StreamEventType = iota
	// StreamText carries a text fragment.
	StreamText
	// StreamImage carries an image payload or reference.
	StreamImage
	// StreamFinish is the terminal frame with final usage and finish reason.
	StreamFinish
	// StreamError reports a transport or provider failure mid-stream.
	StreamError
)

// StreamEvent is one frame produced by a provider adapter. Adapters emit
// frames in transport order on the channel returned by Stream and close the
// channel when done.
type StreamEvent struct {
	Type         StreamEventType
	Text         string
	Image        *ImageData
	Usage        *Usage
	FinishReason *FinishReason
	Raw          map[string]interface{}
	Err          error
}
