package extract

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF pulls the text layer out of a PDF page by page, joining pages with a boundary
// marker. A PDF with no text layer (scans) yields the no-text placeholder, and any decoder
// failure is converted into a placeholder string.
func (s Service) extractPDF(data []byte) (text string) {
	// The pdf library panics on some malformed files instead of returning an error.
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("PDF decoder panicked", slog.Any("panic", r))
			text = fmt.Sprintf("Failed to extract PDF text: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Error("Failed to open PDF", slog.String("err", err.Error()))
		return fmt.Sprintf("Failed to extract PDF text: %v", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText, err := pagePlainText(page)
		if err != nil {
			// Image-only pages are common; keep going without this page.
			s.logger.Warn("Failed to read PDF page",
				slog.Int("page", i),
				slog.String("err", err.Error()))
			continue
		}

		if i > 1 {
			sb.WriteString(fmt.Sprintf("\n--- Page %d ---\n", i))
		}
		sb.WriteString(strings.TrimSpace(pageText))
	}

	text = strings.TrimSpace(sb.String())
	if text == "" {
		return placeholderNoPDFText
	}
	return text
}

func pagePlainText(page pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("page decode panicked: %v", r)
		}
	}()
	return page.GetPlainText(nil)
}
