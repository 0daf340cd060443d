package readers

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XlsxReader extracts spreadsheet cells sheet by sheet, walking each
// sheet's rows in order and each row's cells left to right.
type XlsxReader struct{}

func (r *XlsxReader) Ext() string { return ".xlsx" }

func (r *XlsxReader) ReadText(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}

		for _, row := range rows {
			for i, cell := range row {
				if i > 0 {
					b.WriteString(" ")
				}
				b.WriteString(cell)
			}
			b.WriteString("\n")
		}
	}

	return b.String(), nil
}
