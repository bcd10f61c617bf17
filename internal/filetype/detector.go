package filetype

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info contains detected type information for a byte buffer.
type Info struct {
	MIMEType  string
	Extension string // without the leading dot
	IsPDF     bool
	IsImage   bool
	IsVideo   bool
	IsText    bool
}

// VideoExtensions lists the container formats accepted from file references.
var VideoExtensions = []string{"mp4", "mov", "avi", "mkv"}

// Detect inspects magic bytes, never the claimed type.
func Detect(b []byte) Info {
	mtype := mimetype.Detect(b)
	info := Info{
		MIMEType:  mtype.String(),
		Extension: strings.TrimPrefix(mtype.Extension(), "."),
	}
	classify(&info, mtype)
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Int("bytes", len(b)).Msg("detected content type")
	return info
}

func classify(info *Info, mtype *mimetype.MIME) {
	for m := mtype; m != nil; m = m.Parent() {
		s := m.String()
		switch {
		case s == "application/pdf":
			info.IsPDF = true
		case strings.HasPrefix(s, "image/"):
			info.IsImage = true
		case strings.HasPrefix(s, "video/"):
			info.IsVideo = true
		case strings.HasPrefix(s, "text/"):
			info.IsText = true
		}
	}
}

// ImageFormat returns a short format name (png, jpeg, gif, tiff, webp...) for image bytes,
// or "" when the bytes are not a recognised image.
func ImageFormat(b []byte) string {
	info := Detect(b)
	if !info.IsImage {
		return ""
	}
	switch info.Extension {
	case "jpg":
		return "jpeg"
	case "tif":
		return "tiff"
	}
	return info.Extension
}

// ImageMIME returns the MIME type of image bytes, falling back to def.
func ImageMIME(b []byte, def string) string {
	info := Detect(b)
	if info.IsImage {
		return strings.SplitN(info.MIMEType, ";", 2)[0]
	}
	return def
}

// VideoFormat returns a short container name for video bytes, or "".
func VideoFormat(b []byte) string {
	info := Detect(b)
	if !info.IsVideo {
		return ""
	}
	switch info.MIMEType {
	case "video/quicktime":
		return "mov"
	case "video/x-msvideo", "video/avi":
		return "avi"
	case "video/x-matroska":
		return "mkv"
	}
	return info.Extension
}

// ExtOf returns the lower-cased extension of a path or URL path without the dot.
func ExtOf(p string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(p)), ".")
}

// IsPDFPath reports whether a reference names a PDF by extension.
func IsPDFPath(p string) bool { return ExtOf(p) == "pdf" }

// IsVideoPath reports whether a reference names a supported video container.
func IsVideoPath(p string) bool {
	ext := ExtOf(p)
	for _, v := range VideoExtensions {
		if ext == v {
			return true
		}
	}
	return false
}
