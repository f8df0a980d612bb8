package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"pdf-chat-backend/internal/logger"
)

// PDFExtractor handles PDF text extraction with per-page offsets.
type PDFExtractor struct {
	maxFileSize int64
}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor(maxFileSize int64) *PDFExtractor {
	return &PDFExtractor{maxFileSize: maxFileSize}
}

// ExtractionResult contains the result of PDF text extraction.
// PageBoundaries holds the rune offset where each page starts inside
// Text, so chunk offsets can be mapped back to 1-based page numbers.
type ExtractionResult struct {
	Text           string
	PageBoundaries []int
	PageCount      int
	QualityScore   float64
	ProcessingTime time.Duration
}

// ExtractText extracts text from the PDF at filePath page by page.
func (e *PDFExtractor) ExtractText(ctx context.Context, filePath string) (*ExtractionResult, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stat, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat PDF file: %w", err)
	}
	if e.maxFileSize > 0 && stat.Size() > e.maxFileSize {
		return nil, fmt.Errorf("pdf too large for in-memory extraction: %d bytes", stat.Size())
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF file: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF reader: %w", err)
	}

	var textBuilder strings.Builder
	var boundaries []int
	runeOffset := 0
	pages := reader.NumPage()

	for i := 1; i <= pages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Every page records a boundary, even when it yields no text, so
		// chunk offsets map back to true PDF page numbers. An empty page
		// shares its start offset with the next one.
		boundaries = append(boundaries, runeOffset)

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		fonts := make(map[string]*pdf.Font)
		text, err := page.GetPlainText(fonts)
		if err != nil {
			logger.Warn("Failed to extract text from page", "page", i, "error", err)
			continue
		}
		text = normalizeWhitespace(text)
		if text == "" {
			continue
		}

		textBuilder.WriteString(text)
		textBuilder.WriteString("\n")
		runeOffset += len([]rune(text)) + 1
	}

	extracted := textBuilder.String()
	if extracted == "" {
		return nil, fmt.Errorf("no text extracted, document may be scanned or empty")
	}

	result := &ExtractionResult{
		Text:           extracted,
		PageBoundaries: boundaries,
		PageCount:      pages,
		QualityScore:   evaluateTextQuality(extracted),
		ProcessingTime: time.Since(start),
	}
	if result.QualityScore < 0.3 {
		return nil, fmt.Errorf("extracted text quality too low (%.2f), document may be scanned", result.QualityScore)
	}
	return result, nil
}

// normalizeWhitespace collapses runs of spaces while preserving line
// structure, so offsets stay stable across identical inputs.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// evaluateTextQuality scores extracted text by the share of printable
// content versus replacement characters and control garbage.
func evaluateTextQuality(text string) float64 {
	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return 0.1
	}

	var alphanumeric, printable, corrupted int
	for _, r := range text {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			alphanumeric++
			printable++
		case r == ' ' || r == '\n' || r == '\t':
			printable++
		case r == '�':
			corrupted++
		case r >= 32:
			printable++
		default:
			corrupted++
		}
	}

	total := len([]rune(text))
	score := float64(printable)/float64(total)*0.4 - float64(corrupted)/float64(total)*2.0

	alphanumericRatio := float64(alphanumeric) / float64(total)
	if alphanumericRatio >= 0.3 {
		score += 0.3
	} else {
		score += alphanumericRatio
	}
	if len(text) > 100 {
		score += 0.3
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
