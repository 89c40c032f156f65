package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"

	"github.com/zombor/spend-tracker/internal/category"
)

// receiptScanPrompt is shared by every remote model
var receiptScanPrompt = `You are reading a shopping receipt. Extract every purchased line item.

For each item return:
- "description": the product or service name as printed, without quantity markers or prices
- "amount": the line total as a number (e.g. 3.49)
- "date": the transaction date in YYYY-MM-DD format
- "category": one of ` + categoryList() + `
- "paymentMethod": how the receipt was paid (e.g. "Cash", "Credit Card", "Debit Card")

Also return "rawText" with the full text of the receipt, one printed line per line.

Return ONLY valid JSON in this exact format:
{
  "items": [
    {"description": "Milk", "amount": 3.49, "date": "2024-03-01", "category": "Food", "paymentMethod": "Card"}
  ],
  "rawText": "..."
}

Important:
- Do not include subtotal, tax, tip, discount or total lines as items
- If only a total is legible, return a single item describing the purchase
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// receiptTextPrompt asks a vision model for a plain transcription
const receiptTextPrompt = `Transcribe all text on this receipt exactly as printed, one printed line per output line. Keep prices on the same line as their item. Output only the transcription.`

func categoryList() string {
	names := make([]string, 0, len(category.All()))
	for _, c := range category.All() {
		names = append(names, `"`+c.String()+`"`)
	}
	return strings.Join(names, ", ")
}

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
	return encodePNG(img)
}

// decodeImage decodes HEIC/HEIF and the formats registered with image
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand
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

// prepareImageData converts PDFs and non-PNG images to PNG. The returned
// data is always PNG; converted reports whether any work was done.
func prepareImageData(imageData []byte, contentType string) (pngData []byte, converted bool, err error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	if mimeType == "application/pdf" {
		pngData, err = pdfToImage(imageData)
		if err != nil {
			return nil, false, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, true, nil
	}

	if mimeType == "image/png" && !isHEICFormat(imageData) {
		return imageData, false, nil
	}

	img, err := decodeImage(imageData, mimeType)
	if err != nil {
		return nil, false, fmt.Errorf("converting image to PNG: %w", err)
	}
	pngData, err = encodePNG(img)
	if err != nil {
		return nil, false, err
	}
	return pngData, true, nil
}

// maxOCRDimension bounds the longest side fed to tesseract
const maxOCRDimension = 2000

// preprocessForOCR grayscales, sharpens and boosts contrast so printed
// receipts survive thermal-paper fade
func preprocessForOCR(pngData []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(pngData), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image for OCR: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxOCRDimension || bounds.Dy() > maxOCRDimension {
		if bounds.Dx() > bounds.Dy() {
			img = imaging.Resize(img, maxOCRDimension, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxOCRDimension, imaging.Lanczos)
		}
	}

	img = imaging.Grayscale(img)
	img = imaging.AdjustContrast(img, 40)
	img = imaging.Sharpen(img, 1.5)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding OCR image: %w", err)
	}
	return buf.Bytes(), nil
}
