package domain

import "time"

type ItemStatus string

const (
	StatusQueued      ItemStatus = "queued"
	StatusProcessing  ItemStatus = "processing"
	StatusDone        ItemStatus = "done"
	StatusError       ItemStatus = "error"
	StatusNeedsReview ItemStatus = "needs_review"
)

// MediaType is the closed set of attachment categories the pipeline dispatches on.
type MediaType string

const (
	MediaImage   MediaType = "image"
	MediaAudio   MediaType = "audio"
	MediaPDF     MediaType = "pdf"
	MediaDocx    MediaType = "docx"
	MediaVideo   MediaType = "video"
	MediaUnknown MediaType = "unknown"
)

func ParseMediaType(raw string) MediaType {
	switch MediaType(raw) {
	case MediaImage, MediaAudio, MediaPDF, MediaDocx, MediaVideo:
		return MediaType(raw)
	default:
		return MediaUnknown
	}
}

// QueueItem is one attachment awaiting text extraction. Items are created by an
// external enqueuer with status=queued and are never deleted by the pipeline.
type QueueItem struct {
	ID              string     `json:"id"`
	WebhookID       string     `json:"webhook_id"`
	AttachmentIndex *int       `json:"attachment_index,omitempty"`
	MediaURL        string     `json:"media_url"`
	DeclaredMime    string     `json:"declared_mime"`
	MediaType       MediaType  `json:"media_type"`
	FileName        string     `json:"file_name"`
	Status          ItemStatus `json:"status"`
	Attempts        int        `json:"attempts"`
	MaxAttempts     int        `json:"max_attempts"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	ExtractedText   string     `json:"extracted_text,omitempty"`
	ProcessingMethod string    `json:"processing_method,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StoredURL       string     `json:"stored_url,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

const DefaultMaxAttempts = 3

// ExtractionResult is what a media extractor hands back to the pipeline. Method
// identifies the stage that produced the text so operators can tell fallback
// paths apart.
type ExtractionResult struct {
	Text      string
	Method    string
	StoredURL string
}

// ResolvedType is the sniffer's verdict for a payload: an authoritative MIME type
// plus the media category derived from it.
type ResolvedType struct {
	Mime      string
	MediaType MediaType
}
