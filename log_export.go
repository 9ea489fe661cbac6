package main

import (
	"encoding/csv"
	"fmt"
	"io"
)

const exportTimeFormat = "2006-01-02 15:04:05.000"

// ExportLog writes the log lines to out as CSV. Pending partial lines are
// written with the text they have so far.
func ExportLog(out io.Writer, lines []LogLine) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"Timestamp", "Stream", "Text"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, line := range lines {
		record := []string{
			line.Timestamp.Format(exportTimeFormat),
			line.Stream.String(),
			line.Text,
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv writer: %w", err)
	}
	return nil
}
