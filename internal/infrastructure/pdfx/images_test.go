package pdfx

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image/jpeg"
	"testing"
)

func fakeJPEG(size int) []byte {
	buf := make([]byte, 0, size+5)
	buf = append(buf, 0xFF, 0xD8, 0xFF)
	for i := 0; i < size; i++ {
		// keep filler clear of JPEG markers
		buf = append(buf, byte(i%0x7F))
	}
	return append(buf, 0xFF, 0xD9)
}

func deflate(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

func TestLargestImageFindsDirectJPEG(t *testing.T) {
	jpg := fakeJPEG(4000)
	doc := append([]byte("%PDF-1.4\n1 0 obj\n"), jpg...)
	doc = append(doc, []byte("\ntrailer")...)

	got, err := NewImageFinder().LargestImage(doc)
	if err != nil {
		t.Fatalf("LargestImage() error = %v", err)
	}
	if !bytes.Equal(got, jpg) {
		t.Fatalf("expected direct jpeg bytes, got %d bytes", len(got))
	}
}

func TestLargestImageInflatesWrappedDCTStream(t *testing.T) {
	jpg := fakeJPEG(4000)
	var doc bytes.Buffer
	doc.WriteString("%PDF-1.4\n1 0 obj\n<< /Subtype /Image /Filter [/FlateDecode /DCTDecode] /Width 100 /Height 100 >>\nstream\n")
	doc.Write(deflate(t, jpg))
	doc.WriteString("\nendstream\nendobj\n")

	got, err := NewImageFinder().LargestImage(doc.Bytes())
	if err != nil {
		t.Fatalf("LargestImage() error = %v", err)
	}
	if !bytes.Equal(got, jpg) {
		t.Fatalf("expected inflated jpeg bytes, got %d bytes", len(got))
	}
}

func rawGrayObject(t *testing.T, width, height int) []byte {
	t.Helper()
	pixels := make([]byte, width*height)
	for i := range pixels {
		pixels[i] = byte((i*i + i*7) % 251)
	}
	var obj bytes.Buffer
	fmt.Fprintf(&obj, "<< /Subtype /Image /ColorSpace /DeviceGray /BitsPerComponent 8 /Width %d /Height %d /Filter /FlateDecode >>\nstream\n", width, height)
	obj.Write(deflate(t, pixels))
	obj.WriteString("\nendstream\n")
	return obj.Bytes()
}

func TestLargestImageSynthesizesJPEGFromRawPixels(t *testing.T) {
	var doc bytes.Buffer
	doc.WriteString("%PDF-1.4\n1 0 obj\n")
	doc.Write(rawGrayObject(t, 300, 300))
	doc.WriteString("endobj\n")

	got, err := NewImageFinder().LargestImage(doc.Bytes())
	if err != nil {
		t.Fatalf("LargestImage() error = %v", err)
	}
	if got == nil {
		t.Fatalf("expected synthesized jpeg")
	}
	img, err := jpeg.Decode(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("decode synthesized jpeg: %v", err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 300 {
		t.Fatalf("unexpected synthesized dimensions: %v", img.Bounds())
	}
}

func TestLargestImagePrefersLargestRawStream(t *testing.T) {
	var doc bytes.Buffer
	doc.WriteString("%PDF-1.4\n1 0 obj\n")
	doc.Write(rawGrayObject(t, 16, 16))
	doc.WriteString("endobj\n2 0 obj\n")
	doc.Write(rawGrayObject(t, 300, 300))
	doc.WriteString("endobj\n")

	got, err := NewImageFinder().LargestImage(doc.Bytes())
	if err != nil {
		t.Fatalf("LargestImage() error = %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("decode synthesized jpeg: %v", err)
	}
	if img.Bounds().Dx() != 300 {
		t.Fatalf("expected the larger stream to win, got width %d", img.Bounds().Dx())
	}
}

func TestLargestImageIgnoresDocumentsWithoutImages(t *testing.T) {
	doc := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Page >>\nendobj\ntrailer")
	got, err := NewImageFinder().LargestImage(doc)
	if err != nil {
		t.Fatalf("LargestImage() error = %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for document without images, got %d bytes", len(got))
	}
}

func TestExtractTextRejectsCorruptDocumentWithoutPanicking(t *testing.T) {
	_, err := NewTextExtractor().ExtractText([]byte("%PDF-1.4 not really a pdf"))
	if err == nil {
		t.Fatalf("expected error for corrupt document")
	}
}
