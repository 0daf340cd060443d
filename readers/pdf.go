package readers

import (
	"fmt"

	"code.sajari.com/docconv/v2"
)

// PdfReader extracts the concatenated page text of a PDF document.
type PdfReader struct{}

func (r *PdfReader) Ext() string { return ".pdf" }

func (r *PdfReader) ReadText(path string) (string, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return "", fmt.Errorf("failed to extract pdf text: %w", err)
	}

	return res.Body, nil
}
