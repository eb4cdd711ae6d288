// Package zip bundles generated poster artifacts into a downloadable
// archive.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// Entry is one file of the export archive.
type Entry struct {
	Name string
	Data []byte
}

// Archive packs the entries into a zip. Entries without a name or data are
// skipped; an archive with nothing to pack is an error.
func Archive(entries []Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	packed := 0
	for _, entry := range entries {
		if entry.Name == "" || len(entry.Data) == 0 {
			continue
		}
		w, err := zw.Create(entry.Name)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", entry.Name, err)
		}
		if _, err := w.Write(entry.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", entry.Name, err)
		}
		packed++
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close archive: %w", err)
	}
	if packed == 0 {
		return nil, fmt.Errorf("zip: nothing to archive")
	}
	return buf.Bytes(), nil
}
