package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/richardlehane/mscfb"
)

// Extractor pulls plain text out of Word documents. OpenXML containers are
// unzipped and their document part parsed as XML; legacy compound-binary
// documents are opened as OLE2 storages and the WordDocument stream scanned
// for text runs.
type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(data []byte, mimeType string) (string, error) {
	if mimeType == "application/msword" {
		return extractLegacy(data)
	}
	return extractOpenXML(data)
}

func extractOpenXML(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx container: %w", err)
	}

	var documentXML []byte
	for _, file := range reader.File {
		if file.Name == "word/document.xml" {
			rc, err := file.Open()
			if err != nil {
				return "", fmt.Errorf("open document part: %w", err)
			}
			documentXML, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return "", fmt.Errorf("read document part: %w", err)
			}
			break
		}
	}
	if documentXML == nil {
		return "", fmt.Errorf("zip archive has no word/document.xml part")
	}

	return parseDocumentXML(documentXML)
}

// parseDocumentXML collects text runs (<w:t>) and inserts newlines at
// paragraph boundaries (</w:p>).
func parseDocumentXML(data []byte) (string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))

	var sb strings.Builder
	inText := false
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document xml: %w", err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func extractLegacy(data []byte) (string, error) {
	storage, err := mscfb.New(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open ole2 storage: %w", err)
	}

	for entry, err := storage.Next(); err == nil; entry, err = storage.Next() {
		if entry.Name != "WordDocument" {
			continue
		}
		raw := make([]byte, entry.Size)
		n, readErr := io.ReadFull(entry, raw)
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return "", fmt.Errorf("read WordDocument stream: %w", readErr)
		}
		return scanTextRuns(raw[:n]), nil
	}
	return "", fmt.Errorf("ole2 storage has no WordDocument stream")
}

const minRunLength = 4

// scanTextRuns is a best-effort recovery of readable text from the binary
// WordDocument stream: runs of printable CP1252 bytes and printable UTF-16LE
// sequences, each at least minRunLength characters long.
func scanTextRuns(data []byte) string {
	var runs []string

	var current []rune
	flush := func() {
		if len(current) >= minRunLength {
			runs = append(runs, strings.TrimSpace(string(current)))
		}
		current = current[:0]
	}

	for i := 0; i < len(data); i++ {
		// UTF-16LE printable char: printable low byte followed by 0x00.
		if i+1 < len(data) && data[i+1] == 0x00 && printable(rune(data[i])) {
			current = append(current, rune(data[i]))
			i++
			continue
		}
		if printable(rune(data[i])) {
			current = append(current, rune(data[i]))
			continue
		}
		flush()
	}
	flush()

	joined := strings.Join(nonEmpty(runs), " ")
	return strings.TrimSpace(joined)
}

func printable(r rune) bool {
	return r == ' ' || r == '\t' || (r >= 0x20 && r < 0x7F) || (r >= 0xA0 && r <= 0xFF)
}

func nonEmpty(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
