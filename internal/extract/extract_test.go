package extract

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/echolog/echolog-server/internal/apperr"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if errWrite := os.WriteFile(path, data, 0o600); errWrite != nil {
		t.Fatalf("write %s: %v", name, errWrite)
	}
	return path
}

func TestExtractTXT(t *testing.T) {
	path := writeFile(t, "notes.txt", []byte("\xEF\xBB\xBF  Buongiorno a tutti  \n"))
	text, err := Extract(path, ".TXT")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "Buongiorno a tutti" {
		t.Fatalf("expected trimmed text, got %q", text)
	}
}

func TestExtractWhitespaceOnlyIsEmptyExtraction(t *testing.T) {
	path := writeFile(t, "blank.txt", []byte(" \n\t \r\n "))
	if _, err := Extract(path, "txt"); !errors.Is(err, apperr.ErrEmptyExtraction) {
		t.Fatalf("expected empty extraction, got %v", err)
	}
}

func TestExtractUnsupportedFormat(t *testing.T) {
	path := writeFile(t, "slides.rtf", []byte("{\\rtf1 hi}"))
	_, err := Extract(path, ".rtf")
	if !errors.Is(err, apperr.ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
	if _, details := apperr.Envelope(err); !strings.Contains(details, ".rtf") {
		t.Fatalf("expected extension in details, got %q", details)
	}
	if Supported("rtf") || !Supported(".PDF") {
		t.Fatalf("unexpected Supported results")
	}
}

func TestExtractDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.docx")
	file, errCreate := os.Create(path)
	if errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	zw := zip.NewWriter(file)
	entry, _ := zw.Create("word/document.xml")
	_, _ = entry.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First</w:t></w:r><w:r><w:tab/><w:t xml:space="preserve"> paragraph</w:t></w:r></w:p>
    <w:p><w:r><w:t>Second &amp; last</w:t></w:r></w:p>
  </w:body>
</w:document>`))
	if errClose := zw.Close(); errClose != nil {
		t.Fatalf("close zip: %v", errClose)
	}
	file.Close()

	text, err := Extract(path, "docx")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if text != "First\t paragraph\nSecond & last" {
		t.Fatalf("unexpected docx text %q", text)
	}
}

func TestExtractDOCXWithoutDocumentPart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.docx")
	file, _ := os.Create(path)
	zw := zip.NewWriter(file)
	_, _ = zw.Create("docProps/core.xml")
	_ = zw.Close()
	file.Close()

	if _, err := Extract(path, "docx"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExtractDOCPrefersWideText(t *testing.T) {
	var data []byte
	data = append(data, 0xD0, 0xCF, 0x11, 0xE0, 0x00, 0x01)
	for _, unit := range utf16.Encode([]rune("Verbale della riunione")) {
		data = append(data, byte(unit), byte(unit>>8))
	}
	data = append(data, 0x00, 0x00, 0x03)

	path := writeFile(t, "old.doc", data)
	text, err := Extract(path, "doc")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(text, "Verbale della riunione") {
		t.Fatalf("expected utf-16 text recovered, got %q", text)
	}
}

func TestExtractCorruptPDF(t *testing.T) {
	path := writeFile(t, "broken.pdf", []byte("not a pdf"))
	if _, err := Extract(path, "pdf"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
