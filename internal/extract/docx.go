package extract

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// extractDocx reads the word/document.xml payload of a .docx archive and flattens its
// paragraphs into plain text. Decoder failures and empty documents both come back as
// placeholder strings.
func (s Service) extractDocx(data []byte) string {
	doc, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Error("Failed to open DOCX", slog.String("err", err.Error()))
		return fmt.Sprintf("Failed to extract DOCX text: %v", err)
	}
	defer doc.Close()

	text := docxPlainText(doc.Editable().GetContent())
	if text == "" {
		return placeholderNoDocxText
	}
	return text
}

// docxPlainText walks the WordprocessingML token stream, collecting text runs and emitting one
// line per paragraph.
func docxPlainText(content string) string {
	decoder := xml.NewDecoder(strings.NewReader(content))

	var sb strings.Builder
	var paragraph strings.Builder
	inRun := false

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inRun = true
			}
		case xml.CharData:
			if inRun {
				paragraph.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inRun = false
			case "p":
				line := strings.TrimSpace(paragraph.String())
				paragraph.Reset()
				if line == "" {
					continue
				}
				if sb.Len() > 0 {
					sb.WriteByte('\n')
				}
				sb.WriteString(line)
			}
		}
	}

	return strings.TrimSpace(sb.String())
}
