package pdfx

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// TextExtractor reads the text layer of a PDF. The extraction stage takes
// ownership of its input: callers must pass a duplicate and keep the original
// bytes valid for the fallback stages that run when the text layer is empty.
type TextExtractor struct{}

func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

func (e *TextExtractor) ExtractText(data []byte) (text string, err error) {
	// The underlying parser panics on some malformed documents; a corrupt
	// text layer is an empty stage result, not a pipeline failure.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = fmt.Errorf("pdf text extraction panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text layer: %w", err)
	}

	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text stream: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
