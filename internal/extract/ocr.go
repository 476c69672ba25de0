package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// extractImage runs optical character recognition over the image bytes. OCR can take tens of
// seconds on large photos, so the recognition runs in its own goroutine and the context decides
// how long the caller is willing to wait.
func (s Service) extractImage(ctx context.Context, data []byte) string {
	// The upload may already be superseded or reset before recognition starts.
	if err := ctx.Err(); err != nil {
		s.logger.Warn("OCR abandoned", slog.String("err", err.Error()))
		return fmt.Sprintf("Failed to extract image text: %v", err)
	}

	type ocrResult struct {
		text string
		err  error
	}

	done := make(chan ocrResult, 1)
	go func() {
		done <- func() ocrResult {
			client := gosseract.NewClient()
			defer client.Close()

			if err := client.SetLanguage(s.ocrLanguage); err != nil {
				return ocrResult{err: fmt.Errorf("set language %q: %w", s.ocrLanguage, err)}
			}
			if err := client.SetImageFromBytes(data); err != nil {
				return ocrResult{err: fmt.Errorf("load image: %w", err)}
			}

			text, err := client.Text()
			if err != nil {
				return ocrResult{err: fmt.Errorf("recognize: %w", err)}
			}
			return ocrResult{text: text}
		}()
	}()

	select {
	case <-ctx.Done():
		s.logger.Warn("OCR abandoned", slog.String("err", ctx.Err().Error()))
		return fmt.Sprintf("Failed to extract image text: %v", ctx.Err())
	case res := <-done:
		if res.err != nil {
			s.logger.Error("OCR failed", slog.String("err", res.err.Error()))
			return fmt.Sprintf("Failed to extract image text: %v", res.err)
		}

		text := strings.TrimSpace(res.text)
		if text == "" {
			return placeholderNoOCRText
		}
		return ocrHeader + "\n" + text
	}
}
