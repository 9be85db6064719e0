package ports

import (
	"context"
	"time"

	"github.com/zapdesk/media-extractor/internal/core/domain"
)

// QueueRepository persists queue item state. Claim is the only mutation that
// may race with concurrent invocations; every other mutation happens inside
// the invocation that holds the claim.
type QueueRepository interface {
	Create(ctx context.Context, item *domain.QueueItem) error
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)
	FetchQueued(ctx context.Context, limit int) ([]domain.QueueItem, error)

	// Claim atomically transitions id from queued to processing and stamps
	// last_attempt_at. Returns domain.ErrClaimConflict when the item is no
	// longer queued.
	Claim(ctx context.Context, id string, now time.Time) error

	// MarkProcessed finishes a successful attempt (done or needs_review).
	MarkProcessed(ctx context.Context, id string, status domain.ItemStatus, result domain.ExtractionResult, processedAt time.Time) error

	// MarkFailed records a failed attempt according to the retry policy
	// outcome (requeue with backoff, or terminal error).
	MarkFailed(ctx context.Context, id string, outcome domain.FailureOutcome, message string, failedAt time.Time) error

	// MarkUnresolvable terminally errors an item whose media URL cannot be
	// derived, without consuming retry budget.
	MarkUnresolvable(ctx context.Context, id string, message string, failedAt time.Time) error
}

// ObjectStorage durably persists extracted/derived bytes and returns a
// publicly resolvable URL for them.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Downloader fetches raw media bytes for a URL.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TypeSniffer reconciles declared MIME types with magic-byte evidence.
type TypeSniffer interface {
	Sniff(data []byte, declaredMime string) domain.ResolvedType
}

// VisionService is the OCR/label-detection contract.
type VisionService interface {
	DetectText(ctx context.Context, imageURL string) (string, error)
	DetectLabels(ctx context.Context, imageURL string) ([]string, error)
}

// Transcriber turns raw audio bytes into transcript text. Implementations own
// the upload/create-job/poll protocol and its bounded poll budget.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// PDFTextExtractor reads the embedded text layer of a PDF. Implementations may
// consume their input destructively, so callers pass a duplicate and keep the
// original for later fallback stages.
type PDFTextExtractor interface {
	ExtractText(data []byte) (string, error)
}

// PDFImageFinder locates the largest usable raster image embedded in a PDF
// and returns it as JPEG bytes, or nil when none qualifies.
type PDFImageFinder interface {
	LargestImage(data []byte) ([]byte, error)
}

// WordExtractor extracts text from OpenXML and legacy Word documents.
type WordExtractor interface {
	Extract(data []byte, mimeType string) (string, error)
}

// WakeQueue fans enqueue events out to workers.
type WakeQueue interface {
	PublishItemQueued(ctx context.Context, itemID string) error
	SubscribeItemQueued(ctx context.Context, handler func(context.Context, string) error) error
}
