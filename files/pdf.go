package files

import (
	"bytes"
	"fmt"

	pdf "rsc.io/pdf"
)

const defaultMaxChars = 12000 // ~3k tokens, keeps prompts inside context

// ExtractPDFText returns the text layer of the PDF at path, truncated to
// maxChars. Scanned PDFs with no text layer yield an empty string and no
// error; callers decide how to handle image-only files. maxChars <= 0
// selects the default.
func ExtractPDFText(path string, maxChars int) (text string, err error) {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	// rsc.io/pdf panics on malformed input rather than returning an error.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	for page := 1; page <= r.NumPage(); page++ {
		p := r.Page(page)
		if p.V.IsNull() {
			continue
		}
		for _, t := range p.Content().Text {
			buf.WriteString(t.S)
		}
		buf.WriteString("\n\n")
		if buf.Len() >= maxChars {
			break
		}
	}

	out := bytes.TrimSpace(buf.Bytes())
	if len(out) > maxChars {
		out = out[:maxChars]
	}
	return string(out), nil
}
