package persistence

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ParseImportCSV reads rows of the form player,fen,uci after a header line.
// The FEN may be quoted. Blank and short lines are skipped; a file without a
// single usable row fails with ErrEmptyImport.
func ParseImportCSV(r io.Reader) ([]ImportEntry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var entries []ImportEntry
	header := true
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV: %w", err)
		}
		if header {
			header = false
			continue
		}
		if len(rec) < 3 {
			continue
		}
		// Everything between the first and last field is the FEN.
		entry := ImportEntry{
			Player: strings.TrimSpace(rec[0]),
			Fen:    strings.TrimSpace(strings.Join(rec[1:len(rec)-1], ",")),
			UCI:    strings.TrimSpace(rec[len(rec)-1]),
		}
		if entry.Player == "" || entry.Fen == "" || entry.UCI == "" {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyImport
	}
	return entries, nil
}

// WriteExportCSV writes moves in the export format, header first.
func WriteExportCSV(w io.Writer, moves []MoveSummary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return err
	}
	for _, m := range moves {
		created := ""
		if !m.CreatedAt.IsZero() {
			created = m.CreatedAt.Format("2006-01-02T15:04:05")
		}
		if err := cw.Write([]string{m.UsuarioNombre, m.Fen, m.MoveUci, m.MoveSan, created}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
