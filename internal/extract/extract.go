// Package extract turns uploaded documents into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/ledongthuc/pdf"
)

// Supported document extensions.
const (
	ExtPDF  = "pdf"
	ExtDOCX = "docx"
	ExtDOC  = "doc"
	ExtTXT  = "txt"
)

// minRunLength is the shortest printable run kept when scraping legacy .doc files.
const minRunLength = 4

// Supported reports whether ext (with or without a leading dot) can be extracted.
func Supported(ext string) bool {
	switch normalizeExt(ext) {
	case ExtPDF, ExtDOCX, ExtDOC, ExtTXT:
		return true
	default:
		return false
	}
}

// ExtOf returns the normalized extension of a filename.
func ExtOf(name string) string {
	return normalizeExt(filepath.Ext(name))
}

// Extract reads the file at path as the declared extension. It fails with
// apperr.ErrUnsupportedFormat for unknown extensions and apperr.ErrEmptyExtraction
// when the document holds no non-whitespace text.
func Extract(path, ext string) (string, error) {
	var (
		text string
		err  error
	)
	switch normalized := normalizeExt(ext); normalized {
	case ExtPDF:
		text, err = extractPDF(path)
	case ExtDOCX:
		text, err = extractDOCX(path)
	case ExtDOC:
		text, err = extractDOC(path)
	case ExtTXT:
		text, err = extractTXT(path)
	default:
		return "", apperr.New(apperr.ErrUnsupportedFormat, "unsupported document format", "supported formats: pdf, docx, doc, txt; got "+displayExt(normalized))
	}
	if err != nil {
		return "", apperr.Wrap(apperr.ErrValidation, "could not read document", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.New(apperr.ErrEmptyExtraction, "document contains no text", "")
	}
	return text, nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

func displayExt(ext string) string {
	if ext == "" {
		return "no extension"
	}
	return "." + ext
}

func extractTXT(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

func extractPDF(path string) (text string, err error) {
	// The pdf reader panics on some malformed object streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("read pdf: %v", r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return buf.String(), nil
}

func extractDOCX(path string) (string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		if entry.Name != "word/document.xml" {
			continue
		}
		rc, errOpen := entry.Open()
		if errOpen != nil {
			return "", fmt.Errorf("open document.xml: %w", errOpen)
		}
		defer rc.Close()
		return documentXMLText(rc)
	}
	return "", errors.New("docx: word/document.xml not found")
}

// documentXMLText collects w:t runs, breaking lines at paragraph ends.
func documentXMLText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)
	var (
		out    strings.Builder
		inText bool
	)
	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch el := token.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "t":
				inText = true
			case "tab":
				out.WriteByte('\t')
			case "br", "cr":
				out.WriteByte('\n')
			}
		case xml.EndElement:
			switch el.Name.Local {
			case "t":
				inText = false
			case "p":
				out.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				out.Write(el)
			}
		}
	}
	return out.String(), nil
}

// extractDOC scrapes printable runs from a legacy Word binary. Text in those
// files is stored either as 8-bit characters or UTF-16LE; the interpretation
// yielding more text wins.
func extractDOC(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	narrow := printableRuns(latin1Runes(data))
	wide := printableRuns(utf16Runes(data))
	if len(wide) > len(narrow) {
		return wide, nil
	}
	return narrow, nil
}

func latin1Runes(data []byte) []rune {
	out := make([]rune, len(data))
	for i, b := range data {
		out[i] = rune(b)
	}
	return out
}

func utf16Runes(data []byte) []rune {
	units := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return utf16.Decode(units)
}

func printableRuns(runes []rune) string {
	var (
		out     strings.Builder
		current []rune
	)
	flush := func() {
		if countLetters(current) >= minRunLength {
			if out.Len() > 0 {
				out.WriteByte('\n')
			}
			out.WriteString(strings.TrimSpace(string(current)))
		}
		current = current[:0]
	}
	for _, r := range runes {
		if r == '\r' || r == '\n' {
			flush()
			continue
		}
		if isTextRune(r) {
			current = append(current, r)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}

func isTextRune(r rune) bool {
	if r == '\t' || r == ' ' {
		return true
	}
	if r < 0x20 || r == 0x7F || (r >= 0x80 && r < 0xA0) || r == utf8.RuneError {
		return false
	}
	return unicode.IsPrint(r)
}

func countLetters(runes []rune) int {
	n := 0
	for _, r := range runes {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}
