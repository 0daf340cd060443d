// Package readers holds the format-specific text extractors. Each
// reader turns one file into plain text; everything downstream works on
// strings only.
package readers

import (
	"fmt"
	"os"
)

// PlainReader reads UTF-8 text files. It backs every extension that the
// content classifier recognized as plain text, not just .txt.
type PlainReader struct{}

func (r *PlainReader) Ext() string { return ".txt" }

func (r *PlainReader) ReadText(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read text file: %w", err)
	}

	return string(buf), nil
}
