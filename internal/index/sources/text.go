package sources

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	// ErrUnsupportedEncoding is returned for files that are neither UTF-8 nor
	// BOM-marked UTF-16.
	ErrUnsupportedEncoding = errors.New("unsupported text encoding")

	// ErrBinary is returned for files that look like binary data.
	ErrBinary = errors.New("binary content")

	// ErrFileTooLarge is returned for files above the configured size limit.
	ErrFileTooLarge = errors.New("file exceeds size limit")
)

// readText loads the text of a file. PDFs are converted to plain text; other
// files are decoded as UTF-8, or as UTF-16 when a byte order mark says so.
func readText(path string, maxBytes int64) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDFText(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if maxBytes > 0 {
		r = io.LimitReader(f, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%s: %w", path, ErrFileTooLarge)
	}

	return decodeText(data)
}

// decodeText converts raw file bytes to a string.
func decodeText(data []byte) (string, error) {
	if !hasUTF16BOM(data) {
		if !utf8.Valid(data) {
			return "", ErrUnsupportedEncoding
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return "", ErrBinary
		}
	}

	out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("decoding text: %w", err)
	}
	return string(out), nil
}

func hasUTF16BOM(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0xFE, 0xFF}) || bytes.HasPrefix(data, []byte{0xFF, 0xFE})
}

// extractPDFText extracts plain text from a PDF file. Malformed documents can
// make the parser panic; that is reported as an error.
func extractPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("parsing PDF %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	numPages := r.NumPage()

	for i := 1; i <= numPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue // Skip pages that fail to parse.
		}
		sb.WriteString(pageText)
		if i < numPages {
			sb.WriteString("\n\n")
		}
	}

	return strings.TrimSpace(sb.String()), nil
}
