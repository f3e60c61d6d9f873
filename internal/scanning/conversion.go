package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// supportedTypes maps accepted upload extensions to their content type
var supportedTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// ContentTypeFor returns the content type for a supported invoice file, or
// false when the extension is not one we can send to a model.
func ContentTypeFor(filename string) (string, bool) {
	ct, ok := supportedTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// Supported reports whether a content type can be converted for extraction
func Supported(contentType string) bool {
	ct := normalizeContentType(contentType)
	for _, known := range supportedTypes {
		if ct == known {
			return true
		}
	}
	return false
}

func normalizeContentType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// renderPDF renders the first page of a PDF. Invoices that run over several
// pages carry their header on the first one.
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func decodeImage(data []byte, contentType string) (image.Image, error) {
	if isHEIC(data) || strings.Contains(contentType, "heic") || strings.Contains(contentType, "heif") {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC image: %w", err)
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s image: %w", contentType, err)
	}
	return img, nil
}

// isHEIC looks for an ftyp box with a HEIC brand
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// toPNG normalises an upload to PNG, which every provider accepts
func toPNG(data []byte, contentType string) ([]byte, error) {
	ct := normalizeContentType(contentType)
	if ct == "" {
		ct = "image/jpeg"
	}
	if ct == "image/png" && !isHEIC(data) {
		return data, nil
	}

	var (
		img image.Image
		err error
	)
	if ct == "application/pdf" {
		img, err = renderPDF(data)
	} else {
		img, err = decodeImage(data, ct)
	}
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
