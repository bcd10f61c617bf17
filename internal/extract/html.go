package extract

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/local/writingtools/internal/metrics"
)

// skipped elements never contribute rendered text.
var skipped = map[atom.Atom]bool{
	atom.Head:     true,
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Title:    true,
}

// block elements start on their own line.
var block = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Fieldset: true,
	atom.Figcaption: true, atom.Figure: true, atom.Footer: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Tr: true, atom.Ul: true,
}

// HTMLToText renders the visible text of a UTF-8 HTML document. Markup is stripped,
// runs of whitespace collapse to one space and block elements break lines. Invalid
// UTF-8 sequences in the output become U+FFFD. When the bytes cannot be parsed the raw
// string is returned if it is valid UTF-8, "" otherwise. It never fails.
func HTMLToText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	doc, err := html.Parse(bytes.NewReader(b))
	if err != nil {
		metrics.IncExtractionDegraded("html")
		if !utf8.Valid(b) {
			return ""
		}
		return string(b)
	}

	w := &textWriter{}
	w.walk(doc)
	return strings.ToValidUTF8(w.String(), "\uFFFD")
}

type textWriter struct {
	lines []string
	cur   strings.Builder
	pre   int
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if skipped[n.DataAtom] {
			return
		}
		if n.DataAtom == atom.Br {
			w.newline(true)
			return
		}
	}

	isBlock := n.Type == html.ElementNode && block[n.DataAtom]
	isPre := n.Type == html.ElementNode && n.DataAtom == atom.Pre
	if isBlock {
		w.newline(false)
	}
	if isPre {
		w.pre++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
		if n.Type == html.ElementNode && (n.DataAtom == atom.Tr) && c.Type == html.ElementNode &&
			(c.DataAtom == atom.Td || c.DataAtom == atom.Th) && c.NextSibling != nil {
			w.cur.WriteString("\t")
		}
	}
	if isPre {
		w.pre--
	}
	if isBlock {
		w.newline(false)
	}
}

func (w *textWriter) text(s string) {
	if w.pre > 0 {
		parts := strings.Split(s, "\n")
		for i, p := range parts {
			if i > 0 {
				w.newline(true)
			}
			w.cur.WriteString(p)
		}
		return
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		if s != "" && w.cur.Len() > 0 && !strings.HasSuffix(w.cur.String(), " ") {
			w.cur.WriteString(" ")
		}
		return
	}
	if startsWithSpace(s) && w.cur.Len() > 0 && !strings.HasSuffix(w.cur.String(), " ") {
		w.cur.WriteString(" ")
	}
	w.cur.WriteString(strings.Join(fields, " "))
	if endsWithSpace(s) {
		w.cur.WriteString(" ")
	}
}

// newline ends the current line. Without force an empty line is not emitted.
func (w *textWriter) newline(force bool) {
	line := strings.TrimRight(w.cur.String(), " ")
	w.cur.Reset()
	if line == "" && !force {
		return
	}
	w.lines = append(w.lines, strings.TrimLeft(line, " "))
}

func (w *textWriter) String() string {
	w.newline(false)
	return strings.TrimSpace(strings.Join(w.lines, "\n"))
}

func startsWithSpace(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f'
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f'
}
