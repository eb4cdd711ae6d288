package zip

import (
	"archive/zip"
	"bytes"
	"testing"
)

func TestArchivePacksNamedEntries(t *testing.T) {
	data, err := Archive([]Entry{
		{Name: "poster.png", Data: []byte{1, 2, 3}},
		{Name: "", Data: []byte{9}},
		{Name: "empty.txt"},
		{Name: "prompt.txt", Data: []byte("final prompt")},
	})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) != 2 {
		t.Fatalf("files = %d", len(zr.File))
	}
	if zr.File[0].Name != "poster.png" || zr.File[1].Name != "prompt.txt" {
		t.Fatalf("names = %s, %s", zr.File[0].Name, zr.File[1].Name)
	}
}

func TestArchiveRejectsEmptyInput(t *testing.T) {
	if _, err := Archive(nil); err == nil {
		t.Fatalf("empty archive must error")
	}
	if _, err := Archive([]Entry{{Name: "x"}}); err == nil {
		t.Fatalf("archive with only skipped entries must error")
	}
}
