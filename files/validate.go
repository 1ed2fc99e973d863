// Copyright (C) 2026 Gestima s.r.o.
// See LICENSE for copying information.

package files

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
)

// Type tags with their validation rules.
const (
	TypePDF  = "pdf"
	TypeSTEP = "step"
	TypeNC   = "nc"
	TypeXLSX = "xlsx"
)

const (
	capPDF     = 10 << 20
	capSTEP    = 100 << 20
	capDefault = 50 << 20
)

var safeFilename = regexp.MustCompile(`^[A-Za-z0-9_.\- ]+$`)

var extensionTypes = map[string]string{
	".pdf":   TypePDF,
	".step":  TypeSTEP,
	".stp":   TypeSTEP,
	".nc":    TypeNC,
	".gcode": TypeNC,
	".xlsx":  TypeXLSX,
}

var mimeTypes = map[string]string{
	TypePDF:  "application/pdf",
	TypeSTEP: "application/step",
	TypeNC:   "text/plain",
	TypeXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// magicPrefixes are mandatory for the listed types.
var magicPrefixes = map[string][]byte{
	TypePDF:  []byte("%PDF"),
	TypeSTEP: []byte("ISO-10303"),
}

// DetectType maps a filename extension to a type tag.
func DetectType(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	typ, ok := extensionTypes[ext]
	if !ok {
		return "", ErrUnsupportedType.New("extension %q of %q", ext, filename)
	}
	return typ, nil
}

// MimeFor returns the stored mime type for a type tag.
func MimeFor(typ string) string {
	if mime, ok := mimeTypes[typ]; ok {
		return mime
	}
	return "application/octet-stream"
}

// SizeCap returns the per-type upload size limit in bytes.
func SizeCap(typ string) int64 {
	switch typ {
	case TypePDF:
		return capPDF
	case TypeSTEP:
		return capSTEP
	default:
		return capDefault
	}
}

// ValidateMagic checks the leading bytes for types that mandate a magic
// prefix.
func ValidateMagic(typ string, head []byte) error {
	prefix, required := magicPrefixes[typ]
	if !required {
		return nil
	}
	if !bytes.HasPrefix(head, prefix) {
		return ErrMagicBytes.New("%s content must start with %q", typ, prefix)
	}
	return nil
}

// SanitizeFilename rejects empty and path-traversal names and anything
// outside the safe character set.
func SanitizeFilename(name string) error {
	if name == "" {
		return ErrInvalidFilename.New("empty filename")
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return ErrInvalidFilename.New("path traversal in %q", name)
	}
	if !safeFilename.MatchString(name) {
		return ErrInvalidFilename.New("unsafe characters in %q", name)
	}
	return nil
}

// allowed reports whether typ passes the caller-supplied allow list. An
// empty list allows everything.
func allowed(typ string, allowTypes []string) bool {
	if len(allowTypes) == 0 {
		return true
	}
	for _, t := range allowTypes {
		if t == typ {
			return true
		}
	}
	return false
}
