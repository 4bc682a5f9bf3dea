package classify

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// wastePrompt is shared by the vision model backends
const wastePrompt = `You are sorting household waste for recycling. Look at the single most prominent item in the photo and classify it into exactly one of these labels:

- plastic: bottles, cups, bags, packaging film, containers made of plastic
- metal: cans, tins, foil, bottle caps and other metal items
- paper: sheets, newspapers, magazines, receipts, paper bags
- cardboard: boxes, cartons, corrugated board
- glass: bottles, jars and other glass items
- trash: anything that is not recyclable, food-soiled or mixed material

Return ONLY valid JSON in this exact format:
{
  "label": "plastic",
  "confidence": 0.0
}

Important:
- The label must be one of: plastic, metal, paper, cardboard, glass, trash
- The confidence must be a number between 0 and 1 describing how sure you are
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// pdfToImage renders the first page of a PDF as PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// imageToPNG re-encodes any supported image as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, BMP, WebP, HEIC, HEIF, PDF. Error: %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks the ftyp box for a HEIC/HEIF brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func normalizeMimeType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		return "image/jpeg"
	}
	return mimeType
}

// toPNG converts PDFs and non-PNG images to PNG. The vision backends only
// ever see PNG.
func toPNG(imageData []byte, contentType string) ([]byte, error) {
	mimeType := normalizeMimeType(contentType)
	switch {
	case mimeType == "application/pdf":
		out, err := pdfToImage(imageData)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return out, nil
	case mimeType != "image/png" || isHEICFormat(imageData):
		out, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return out, nil
	}
	return imageData, nil
}

// forUpload converts only the formats a plain image model cannot read
// (HEIC/HEIF and PDF). Everything else is forwarded untouched.
func forUpload(imageData []byte, contentType string) ([]byte, string, error) {
	mimeType := normalizeMimeType(contentType)
	if mimeType == "application/pdf" || isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		out, err := toPNG(imageData, mimeType)
		if err != nil {
			return nil, "", err
		}
		return out, "image/png", nil
	}
	return imageData, mimeType, nil
}
