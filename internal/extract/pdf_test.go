package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePage struct {
	text string
	err  error
}

func (p fakePage) Text() (string, error) { return p.text, p.err }
func (p fakePage) Close()                {}

type fakeDoc struct {
	pages  []fakePage
	closed bool
}

func (d *fakeDoc) NumPage() int { return len(d.pages) }
func (d *fakeDoc) Page(i int) (Page, error) {
	if d.pages[i].err != nil && d.pages[i].text == "open" {
		return nil, d.pages[i].err
	}
	return d.pages[i], nil
}
func (d *fakeDoc) Close() error {
	d.closed = true
	return nil
}

type fakeOpener struct {
	doc *fakeDoc
	err error
	pan bool
}

func (o fakeOpener) Open([]byte) (Doc, error) {
	if o.pan {
		panic("backend crashed")
	}
	if o.err != nil {
		return nil, o.err
	}
	return o.doc, nil
}

func withOpener(t *testing.T, o Opener) {
	t.Helper()
	prev := defaultOpener
	setDefaultOpener(o)
	t.Cleanup(func() { setDefaultOpener(prev) })
}

func TestPDFToTextConcatenatesPagesAndSkipsFailures(t *testing.T) {
	doc := &fakeDoc{pages: []fakePage{
		{text: "Hello "},
		{err: errors.New("broken page")},
		{text: "", err: nil},
	}}
	withOpener(t, fakeOpener{doc: doc})

	assert.Equal(t, "Hello ", PDFToText([]byte("%PDF-stub")))
	assert.True(t, doc.closed)
}

func TestPDFToTextPageOpenFailure(t *testing.T) {
	doc := &fakeDoc{pages: []fakePage{
		{text: "open", err: errors.New("cannot load")},
		{text: "B"},
	}}
	withOpener(t, fakeOpener{doc: doc})

	assert.Equal(t, "B", PDFToText([]byte("x")))
}

func TestPDFToTextIsTotal(t *testing.T) {
	withOpener(t, fakeOpener{err: errors.New("not a pdf")})
	assert.Equal(t, "", PDFToText([]byte("definitely not a pdf")))

	withOpener(t, fakeOpener{pan: true})
	assert.Equal(t, "", PDFToText([]byte("x")))

	assert.Equal(t, "", PDFToText(nil))
}

func TestPDFPageCountRejectsGarbage(t *testing.T) {
	_, err := PDFPageCount([]byte("nope"))
	assert.Error(t, err)
}
