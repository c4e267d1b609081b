package constants

import "strings"

// AllowedExtensions holds the default allowed image extensions for ingestion.
var AllowedExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"webp": {},
}

// MIMEByExt maps a normalized extension to its MIME type.
var MIMEByExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// AllowedExt reports whether ext (normalized) is an accepted upload type.
func AllowedExt(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}

// ExtToMIME returns the MIME type for ext, or "" when unknown.
func ExtToMIME(ext string) string {
	return MIMEByExt[NormalizeExt(ext)]
}
