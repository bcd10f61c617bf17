package capture

// Type identifiers understood by the sniffer.
const (
	TypePDF = "com.adobe.pdf"

	TypeMPEG4     = "public.mpeg-4"
	TypeQuickTime = "com.apple.quicktime-movie"
	TypeAVI       = "public.avi"
	TypeMatroska  = "org.matroska.mkv"
	TypeMovie     = "public.movie"

	TypePNG   = "public.png"
	TypeJPEG  = "public.jpeg"
	TypeTIFF  = "public.tiff"
	TypeGIF   = "com.compuserve.gif"
	TypeImage = "public.image"

	TypeUTF8Text  = "public.utf8-plain-text"
	TypeRTF       = "public.rtf"
	TypePlainText = "public.plain-text"

	TypeFileURL = "public.file-url"
)

// Source is a read-only view over a clipboard-like, multi-format container.
type Source interface {
	// Types lists the type identifiers currently present.
	Types() []string
	// Data returns the bytes stored under typ.
	Data(typ string) ([]byte, bool)
	// URLs returns referenced file URLs, if any.
	URLs() []string
}

// Item is one typed entry of a MemorySource.
type Item struct {
	Type string `json:"type"`
	Data []byte `json:"data"`
}

// MemorySource is a Source backed by an ordered list of items.
type MemorySource struct {
	items []Item
	urls  []string
}

// NewMemorySource copies items and urls into a new source.
func NewMemorySource(items []Item, urls []string) *MemorySource {
	s := &MemorySource{
		items: make([]Item, len(items)),
		urls:  append([]string(nil), urls...),
	}
	copy(s.items, items)
	return s
}

// TextSource is a convenience for a source holding only UTF-8 text.
func TextSource(text string) *MemorySource {
	return NewMemorySource([]Item{{Type: TypeUTF8Text, Data: []byte(text)}}, nil)
}

func (s *MemorySource) Types() []string {
	out := make([]string, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it.Type)
	}
	return out
}

func (s *MemorySource) Data(typ string) ([]byte, bool) {
	for _, it := range s.items {
		if it.Type == typ {
			return it.Data, true
		}
	}
	return nil, false
}

func (s *MemorySource) URLs() []string { return append([]string(nil), s.urls...) }
