package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zapdesk/media-extractor/internal/core/domain"
	"github.com/zapdesk/media-extractor/internal/core/ports"
)

// mediaPayload carries one claimed item's downloaded bytes through an
// extractor chain. data stays valid across fallback stages; stages that
// consume buffers destructively must work on their own duplicate.
type mediaPayload struct {
	item      *domain.QueueItem
	data      []byte
	resolved  domain.ResolvedType
	storedURL string
}

// bestURL prefers the durable copy and falls back to the original source when
// the upload failed.
func (p *mediaPayload) bestURL() string {
	if p.storedURL != "" {
		return p.storedURL
	}
	return p.item.MediaURL
}

// mediaExtractor is one branch of the dispatch union. A returned error
// escalates to the retry policy; stage-local failures inside a chain are
// swallowed so later fallbacks still run.
type mediaExtractor interface {
	Extract(ctx context.Context, p *mediaPayload) (domain.ExtractionResult, error)
}

const (
	methodImageOCR     = "google-vision-ocr"
	methodImageLabels  = "google-vision-labels"
	methodPDFText      = "pdf-parse"
	methodPDFImage     = "google-vision-pdf-image"
	methodPDFDirect    = "google-vision-pdf-direct"
	methodAudio        = "assemblyai-transcription"
	methodDocx         = "docx-extract"
	methodDocLegacy    = "doc-legacy-extract"
	methodSkippedZip   = "skipped-zip"
	methodSkippedVideo = "skipped-video"
)

type imageExtractor struct {
	vision ports.VisionService
}

func (e *imageExtractor) Extract(ctx context.Context, p *mediaPayload) (domain.ExtractionResult, error) {
	url := p.bestURL()

	text, err := e.vision.DetectText(ctx, url)
	if err != nil {
		slog.Warn("image_ocr_stage_failed", "item_id", p.item.ID, "error", err)
		text = ""
	}
	if strings.TrimSpace(text) != "" {
		return domain.ExtractionResult{Text: text, Method: methodImageOCR}, nil
	}

	labels, err := e.vision.DetectLabels(ctx, url)
	if err != nil {
		slog.Warn("image_label_stage_failed", "item_id", p.item.ID, "error", err)
		labels = nil
	}
	if len(labels) > 0 {
		return domain.ExtractionResult{
			Text:   "[Imagem] " + strings.Join(labels, ", "),
			Method: methodImageLabels,
		}, nil
	}

	return domain.ExtractionResult{Method: methodImageOCR}, nil
}

type audioExtractor struct {
	transcriber ports.Transcriber
}

// Audio has a single stage with no fallback, so a transcription failure is a
// hard failure for the attempt and escalates to the retry policy.
func (e *audioExtractor) Extract(ctx context.Context, p *mediaPayload) (domain.ExtractionResult, error) {
	text, err := e.transcriber.Transcribe(ctx, p.data)
	if err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("transcribe audio: %w", err)
	}
	return domain.ExtractionResult{Text: text, Method: methodAudio}, nil
}

// minPDFTextChars is the text-layer length below which a PDF is treated as a
// scan and the image fallbacks run.
const minPDFTextChars = 50

type pdfExtractor struct {
	text    ports.PDFTextExtractor
	images  ports.PDFImageFinder
	storage ports.ObjectStorage
	vision  ports.VisionService
}

func (e *pdfExtractor) Extract(ctx context.Context, p *mediaPayload) (domain.ExtractionResult, error) {
	best := domain.ExtractionResult{Method: methodPDFText}

	// The text-layer parser consumes its buffer, so it gets a duplicate and
	// the original bytes stay available for the image fallbacks.
	dup := make([]byte, len(p.data))
	copy(dup, p.data)
	text, err := e.text.ExtractText(dup)
	if err != nil {
		slog.Warn("pdf_text_stage_failed", "item_id", p.item.ID, "error", err)
		text = ""
	}
	best.Text = text
	if len(strings.TrimSpace(best.Text)) > minPDFTextChars {
		return best, nil
	}

	if result, ok := e.embeddedImageStage(ctx, p); ok && len(result.Text) > len(best.Text) {
		best = result
	}
	if len(strings.TrimSpace(best.Text)) > minPDFTextChars {
		return best, nil
	}

	// Some OCR backends rasterize documents themselves; last resort is OCR
	// straight on the original document URL.
	directText, err := e.vision.DetectText(ctx, p.item.MediaURL)
	if err != nil {
		slog.Warn("pdf_direct_ocr_stage_failed", "item_id", p.item.ID, "error", err)
		directText = ""
	}
	if len(directText) > len(best.Text) {
		best = domain.ExtractionResult{Text: directText, Method: methodPDFDirect}
	}
	return best, nil
}

// embeddedImageStage uploads the largest embedded raster image and OCRs the
// durable copy. Returns ok=false when the stage found nothing usable.
func (e *pdfExtractor) embeddedImageStage(ctx context.Context, p *mediaPayload) (domain.ExtractionResult, bool) {
	img, err := e.images.LargestImage(p.data)
	if err != nil {
		slog.Warn("pdf_image_scan_failed", "item_id", p.item.ID, "error", err)
		return domain.ExtractionResult{}, false
	}
	if len(img) == 0 {
		return domain.ExtractionResult{}, false
	}

	key := fmt.Sprintf("%s/embedded-page.jpg", p.item.ID)
	imgURL, err := e.storage.Upload(ctx, key, img, "image/jpeg")
	if err != nil {
		slog.Warn("pdf_image_upload_failed", "item_id", p.item.ID, "error", err)
		return domain.ExtractionResult{}, false
	}

	text, err := e.vision.DetectText(ctx, imgURL)
	if err != nil {
		slog.Warn("pdf_image_ocr_failed", "item_id", p.item.ID, "error", err)
		return domain.ExtractionResult{}, false
	}
	return domain.ExtractionResult{Text: text, Method: methodPDFImage, StoredURL: imgURL}, true
}

type docExtractor struct {
	word ports.WordExtractor
}

func (e *docExtractor) Extract(ctx context.Context, p *mediaPayload) (domain.ExtractionResult, error) {
	_ = ctx

	method := methodDocx
	if p.resolved.Mime == "application/msword" {
		method = methodDocLegacy
	}

	text, err := e.word.Extract(p.data, p.resolved.Mime)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			slog.Warn("doc_extract_stage_failed", "item_id", p.item.ID, "error", err)
		}
		// A generic ZIP that is not an OpenXML document will never extract;
		// retrying would only burn the budget.
		if p.resolved.Mime == "application/zip" {
			return domain.ExtractionResult{
				Text:   "[not a word document: generic zip archive]",
				Method: methodSkippedZip,
			}, nil
		}
		return domain.ExtractionResult{Method: method}, nil
	}
	return domain.ExtractionResult{Text: text, Method: method}, nil
}

