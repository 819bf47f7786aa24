package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/pkg/logging"
)

type stubImageOCR struct {
	text string
	err  error
}

func (s *stubImageOCR) ExtractImageText(context.Context, []byte) (string, error) {
	return s.text, s.err
}

type stubPDFReader struct {
	text string
	err  error
}

func (s *stubPDFReader) ExtractPDFText(context.Context, []byte) (string, error) {
	return s.text, s.err
}

type stubFetcher struct {
	data map[string][]byte
}

func (s *stubFetcher) Fetch(_ context.Context, ref string) ([]byte, error) {
	data, ok := s.data[ref]
	if !ok {
		return nil, errors.New("not found")
	}
	return data, nil
}

func newTestMessage(content string, attachments ...message.Attachment) message.Message {
	return message.New(uuid.New(), message.SenderContractor, content, attachments)
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses runs", "call   me \t maybe", "call me maybe"},
		{"trims line ends", "  first line  \n  second  ", "first line\nsecond"},
		{"preserves newlines", "a\nb\nc", "a\nb\nc"},
		{"empty", "   \n  ", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeWhitespace(tc.in))
		})
	}
}

func TestExtract_TextKeepsRawBody(t *testing.T) {
	e := NewExtractor(nil, nil, nil, 0, logging.New("error"))
	raw := "call me  at   555-867-5309"

	got, err := e.Extract(context.Background(), newTestMessage(raw))
	require.NoError(t, err)

	assert.Equal(t, raw, got.Text, "span offsets index the body as written")
	assert.Equal(t, "call me at 555-867-5309", got.CleanText)
	assert.Empty(t, got.EmbeddedTexts)
}

func TestExtract_ImageTextIsEmbedded(t *testing.T) {
	e := NewExtractor(&stubImageOCR{text: "my number is 555-867-5309"}, nil, nil, 0, logging.New("error"))
	msg := newTestMessage("see photo", message.Attachment{Kind: message.AttachmentImage, Data: []byte{0xFF, 0xD8}})

	got, err := e.Extract(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, got.EmbeddedTexts, 1)
	assert.Equal(t, "my number is 555-867-5309", got.EmbeddedTexts[0])
	assert.Contains(t, got.Combined(), "555-867-5309")
}

func TestExtract_ImageOCRFailureIsNotFatal(t *testing.T) {
	e := NewExtractor(&stubImageOCR{err: errors.New("ocr down")}, nil, nil, 0, logging.New("error"))
	msg := newTestMessage("see photo", message.Attachment{Kind: message.AttachmentImage, Data: []byte{0xFF, 0xD8}})

	got, err := e.Extract(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, got.EmbeddedTexts)
}

func TestExtract_PDFText(t *testing.T) {
	pdf := []byte("%PDF-1.7 fake body")
	e := NewExtractor(nil, &stubPDFReader{text: "Change order: granite counters"}, nil, 0, logging.New("error"))
	msg := newTestMessage("signed change order attached", message.Attachment{Kind: message.AttachmentPDF, Data: pdf})

	got, err := e.Extract(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, got.EmbeddedTexts, 1)
	assert.Equal(t, "Change order: granite counters", got.EmbeddedTexts[0])
}

func TestExtract_UnreadablePDFFailsExtraction(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		pdfs PDFTextExtractor
	}{
		{"not a pdf", []byte("GIF89a nonsense"), &stubPDFReader{text: "x"}},
		{"encrypted", []byte("%PDF-1.7 /Encrypt 42 0 R"), &stubPDFReader{text: "x"}},
		{"reader failure", []byte("%PDF-1.7 body"), &stubPDFReader{err: errors.New("parse error")}},
		{"no reader configured", []byte("%PDF-1.7 body"), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewExtractor(nil, tc.pdfs, nil, 0, logging.New("error"))
			msg := newTestMessage("attached", message.Attachment{Kind: message.AttachmentPDF, Data: tc.data})

			_, err := e.Extract(context.Background(), msg)
			assert.ErrorIs(t, err, ErrUnextractableAttachment)
		})
	}
}

func TestExtract_FetchesByRef(t *testing.T) {
	fetcher := &stubFetcher{data: map[string][]byte{
		"attachments/photo.jpg": {0xFF, 0xD8},
	}}
	e := NewExtractor(&stubImageOCR{text: "venmo me"}, nil, fetcher, 1024, logging.New("error"))
	msg := newTestMessage("photo", message.Attachment{Kind: message.AttachmentImage, Ref: "attachments/photo.jpg"})

	got, err := e.Extract(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, got.EmbeddedTexts, 1)
	assert.Equal(t, "venmo me", got.EmbeddedTexts[0])
}

func TestExtract_UnfetchablePDFRefBlocks(t *testing.T) {
	e := NewExtractor(nil, &stubPDFReader{text: "x"}, &stubFetcher{}, 0, logging.New("error"))
	msg := newTestMessage("doc", message.Attachment{Kind: message.AttachmentPDF, Ref: "attachments/missing.pdf"})

	_, err := e.Extract(context.Background(), msg)
	assert.ErrorIs(t, err, ErrUnextractableAttachment)
}

func TestExtract_OversizedAttachmentSkippedForImages(t *testing.T) {
	fetcher := &stubFetcher{data: map[string][]byte{
		"attachments/huge.jpg": make([]byte, 64),
	}}
	e := NewExtractor(&stubImageOCR{text: "never read"}, nil, fetcher, 16, logging.New("error"))
	msg := newTestMessage("photo", message.Attachment{Kind: message.AttachmentImage, Ref: "attachments/huge.jpg"})

	got, err := e.Extract(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, got.EmbeddedTexts)
}

func TestCombined(t *testing.T) {
	c := NormalizedContent{CleanText: "body"}
	assert.Equal(t, "body", c.Combined())

	c.EmbeddedTexts = []string{"first", "second"}
	assert.Equal(t, "body\nfirst\nsecond", c.Combined())
}
