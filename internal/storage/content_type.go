package storage

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DetectContentType determines the MIME type for a stored object.
//
// Detection order:
//  1. If providedType is non-empty, use it directly
//  2. Look up the file extension with mime.TypeByExtension
//  3. Sniff the first 512 bytes of data (if a reader is given)
//  4. Fall back to "application/octet-stream"
func DetectContentType(providedType, filename string, data io.Reader) string {
	if providedType != "" {
		return providedType
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}

	if data != nil {
		// http.DetectContentType needs at most 512 bytes
		buffer := make([]byte, 512)
		n, err := io.ReadFull(data, buffer)
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			return http.DetectContentType(buffer[:n])
		}
	}

	return "application/octet-stream"
}

// AllowedImageTypes defines the MIME types accepted for uploaded source
// images. These are the formats the generation gateway can read.
var AllowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true, // some clients send this instead of image/jpeg
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// IsAllowedImageType checks if a content type is an accepted upload format.
func IsAllowedImageType(contentType string) bool {
	// Strip parameters like charset before matching
	baseType := strings.Split(contentType, ";")[0]
	baseType = strings.TrimSpace(strings.ToLower(baseType))
	return AllowedImageTypes[baseType]
}
