// Package extract turns uploaded file bytes into plain text for the chat context. Every branch
// delegates to a format-specific decoder and converts decoder failures into user-facing
// placeholder text, so callers always receive displayable content and never an error.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

// Size ceilings checked before any extraction is attempted. Images get a higher cap because
// photos of documents routinely exceed the general limit.
const (
	MaxImageFileSize = 15 << 20
	MaxFileSize      = 10 << 20
)

// ErrFileTooLarge and ErrUnsupportedType are the two validation rejections. Both carry a
// user-facing message via Validate's wrapping.
var (
	ErrFileTooLarge    = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported file type")
	errNoFileKind      = errors.New("unrecognized file kind")
)

type kind int

const (
	kindUnknown kind = iota
	kindText
	kindPDF
	kindDocx
	kindLegacyDoc
	kindSpreadsheet
	kindImage
)

const (
	placeholderNoPDFText = "No readable text was found in this PDF. " +
		"The file may contain only scanned images; try uploading the pages as image files instead."
	placeholderNoDocxText = "No readable text was found in this document."
	placeholderLegacyDoc  = "Legacy .doc files are not supported. " +
		"Please convert the document to .docx and upload it again."
	placeholderSpreadsheet = "Spreadsheet files are not supported. " +
		"Please export the sheet as .csv and upload it again."
	placeholderNoOCRText = "No text could be recognized in this image. Possible reasons:\n" +
		"- The image is blurry or too low resolution\n" +
		"- The image does not contain any text\n" +
		"- The text is in a language the OCR engine is not configured for"

	ocrHeader = "--- Extracted from image (OCR) ---"
)

var textExtensions = map[string]bool{
	".txt": true, ".json": true, ".csv": true, ".md": true, ".xml": true, ".log": true,
}

var textMimeTypes = map[string]bool{
	"text/plain":       true,
	"application/json": true,
	"text/csv":         true,
	"text/markdown":    true,
	"text/xml":         true,
	"application/xml":  true,
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".bmp": true, ".tiff": true,
}

// Service extracts text from uploaded files. The zero value is not usable; construct with New.
type Service struct {
	ocrLanguage string

	logger *slog.Logger
}

// New creates an extraction Service. ocrLanguage is a tesseract language code such as "eng";
// an empty string falls back to "eng".
func New(ocrLanguage string, logger *slog.Logger) Service {
	if ocrLanguage == "" {
		ocrLanguage = "eng"
	}
	return Service{
		ocrLanguage: ocrLanguage,
		logger:      logger.With(slog.String("module", "extract")),
	}
}

// Validate checks an upload against the size ceilings and the supported type set. It must be
// called before Extract; rejected files never reach a decoder. The returned errors wrap
// ErrFileTooLarge or ErrUnsupportedType and carry a message suitable for direct display.
func (s Service) Validate(filename, mimeType string, size int64) error {
	k := detectKind(filename, mimeType)
	if k == kindUnknown {
		return fmt.Errorf("%w: %q is not a supported file (%s)",
			ErrUnsupportedType, filename, strings.Join(SupportedExtensions(), " "))
	}

	limit := int64(MaxFileSize)
	if k == kindImage {
		limit = MaxImageFileSize
	}
	if size > limit {
		return fmt.Errorf("%w: %d bytes exceeds the %d MB limit", ErrFileTooLarge, size, limit>>20)
	}

	return nil
}

// IsImage reports whether the upload will go through OCR, which is the slow path the caller may
// want to run asynchronously behind a progress placeholder.
func (s Service) IsImage(filename, mimeType string) bool {
	return detectKind(filename, mimeType) == kindImage
}

// Extract produces best-effort plain text from the uploaded bytes. It never returns an error:
// decoder failures and empty results both come back as diagnostic placeholder strings, so the
// document state is always defined. Callers must Validate first; bytes of an unrecognized kind
// still yield a placeholder rather than a panic.
func (s Service) Extract(ctx context.Context, data []byte, filename, mimeType string) string {
	switch detectKind(filename, mimeType) {
	case kindText:
		return string(data)
	case kindPDF:
		return s.extractPDF(data)
	case kindDocx:
		return s.extractDocx(data)
	case kindLegacyDoc:
		return placeholderLegacyDoc
	case kindSpreadsheet:
		return placeholderSpreadsheet
	case kindImage:
		return s.extractImage(ctx, data)
	default:
		return fmt.Sprintf("Failed to extract text: %v", errNoFileKind)
	}
}

// SupportedExtensions returns every extension the validation layer accepts, including the ones
// that only produce an advisory placeholder (.doc, .xlsx, .xls).
func SupportedExtensions() []string {
	return []string{
		".txt", ".json", ".csv", ".md", ".xml", ".log",
		".pdf", ".doc", ".docx", ".xlsx", ".xls",
		".png", ".jpg", ".jpeg", ".webp", ".bmp", ".tiff",
	}
}

// detectKind dispatches on the declared MIME type first and falls back to the file extension
// when the type is absent or too generic to be useful.
func detectKind(filename, mimeType string) kind {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	switch {
	case textMimeTypes[mimeType]:
		return kindText
	case mimeType == "application/pdf":
		return kindPDF
	case mimeType == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return kindDocx
	case mimeType == "application/msword":
		return kindLegacyDoc
	case mimeType == "application/vnd.ms-excel",
		mimeType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return kindSpreadsheet
	// GIF is the one common image format OCR is not worth running on (animation frames,
	// palette dithering), so it stays out of the accepted set.
	case strings.HasPrefix(mimeType, "image/") && mimeType != "image/gif":
		return kindImage
	}

	// MIME type absent or generic (browsers send application/octet-stream for plenty of
	// perfectly ordinary files), so fall back to the extension.
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case textExtensions[ext]:
		return kindText
	case ext == ".pdf":
		return kindPDF
	case ext == ".docx":
		return kindDocx
	case ext == ".doc":
		return kindLegacyDoc
	case ext == ".xlsx" || ext == ".xls":
		return kindSpreadsheet
	case imageExtensions[ext]:
		return kindImage
	}

	return kindUnknown
}
