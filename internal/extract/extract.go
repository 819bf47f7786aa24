package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/instabids/messaging-guard/internal/message"
	"github.com/instabids/messaging-guard/pkg/logging"
)

// ErrUnextractableAttachment indicates an attachment whose content could not
// be read (encrypted or corrupt PDF). The decision engine treats it as
// block-pending-review, never as allow.
var ErrUnextractableAttachment = errors.New("extract: unextractable attachment")

// NormalizedContent is the analyzable form of an inbound message.
type NormalizedContent struct {
	// Text is the message body exactly as the sender wrote it. Threat spans
	// are byte offsets into this string so redaction stays span-local.
	Text string
	// CleanText is a whitespace-normalized copy used for language analysis.
	CleanText string
	// EmbeddedTexts holds text pulled out of attachments, one entry per
	// attachment that yielded anything.
	EmbeddedTexts []string
}

// Combined joins body text and embedded texts for analysis passes that do not
// need span offsets.
func (n NormalizedContent) Combined() string {
	if len(n.EmbeddedTexts) == 0 {
		return n.CleanText
	}
	parts := append([]string{n.CleanText}, n.EmbeddedTexts...)
	return strings.Join(parts, "\n")
}

// ImageTextExtractor pulls text out of an image attachment. Failure to find
// any text is not an error.
type ImageTextExtractor interface {
	ExtractImageText(ctx context.Context, data []byte) (string, error)
}

// PDFTextExtractor pulls text out of a PDF attachment.
type PDFTextExtractor interface {
	ExtractPDFText(ctx context.Context, data []byte) (string, error)
}

// AttachmentFetcher resolves an attachment reference to its bytes.
type AttachmentFetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Extractor normalizes an inbound message into analyzable text.
type Extractor struct {
	images   ImageTextExtractor
	pdfs     PDFTextExtractor
	fetcher  AttachmentFetcher
	maxBytes int64
	logger   *logging.Logger
}

// NewExtractor wires the attachment adapters. Any adapter may be nil; the
// corresponding attachment kind then contributes no embedded text, except
// PDFs, which fail extraction when no adapter can read them.
func NewExtractor(images ImageTextExtractor, pdfs PDFTextExtractor, fetcher AttachmentFetcher, maxBytes int64, logger *logging.Logger) *Extractor {
	if logger == nil {
		logger = logging.Default()
	}
	return &Extractor{
		images:   images,
		pdfs:     pdfs,
		fetcher:  fetcher,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

var whitespaceRe = regexp.MustCompile(`[ \t]+`)

// NormalizeWhitespace collapses horizontal whitespace runs and trims the ends.
func NormalizeWhitespace(s string) string {
	s = whitespaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Extract normalizes msg into analyzable text. It is a pure function of its
// input; all attachment reads are side-effect free.
func (e *Extractor) Extract(ctx context.Context, msg message.Message) (NormalizedContent, error) {
	content := NormalizedContent{
		Text:      msg.RawContent,
		CleanText: NormalizeWhitespace(msg.RawContent),
	}

	for i, att := range msg.Attachments {
		data, err := e.attachmentBytes(ctx, att)
		if err != nil {
			if att.Kind == message.AttachmentPDF {
				return NormalizedContent{}, fmt.Errorf("extract: attachment %d: %w", i, ErrUnextractableAttachment)
			}
			e.logger.Warn("image attachment unreadable, proceeding without it",
				"attachment", i,
				"error", err,
			)
			continue
		}

		switch att.Kind {
		case message.AttachmentImage:
			text := e.imageText(ctx, data)
			if text != "" {
				content.EmbeddedTexts = append(content.EmbeddedTexts, text)
			}
		case message.AttachmentPDF:
			text, err := e.pdfText(ctx, data)
			if err != nil {
				return NormalizedContent{}, fmt.Errorf("extract: attachment %d: %w", i, err)
			}
			if text != "" {
				content.EmbeddedTexts = append(content.EmbeddedTexts, text)
			}
		default:
			e.logger.Warn("unknown attachment kind skipped", "kind", string(att.Kind))
		}
	}

	return content, nil
}

func (e *Extractor) attachmentBytes(ctx context.Context, att message.Attachment) ([]byte, error) {
	if len(att.Data) > 0 {
		return att.Data, nil
	}
	if att.Ref == "" {
		return nil, errors.New("extract: attachment has neither data nor ref")
	}
	if e.fetcher == nil {
		return nil, errors.New("extract: no attachment fetcher configured")
	}
	data, err := e.fetcher.Fetch(ctx, att.Ref)
	if err != nil {
		return nil, fmt.Errorf("extract: fetch %q: %w", att.Ref, err)
	}
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("extract: attachment %q exceeds %d bytes", att.Ref, e.maxBytes)
	}
	return data, nil
}

// imageText is best-effort: OCR failures yield empty text, never an error.
func (e *Extractor) imageText(ctx context.Context, data []byte) string {
	if e.images == nil {
		return ""
	}
	text, err := e.images.ExtractImageText(ctx, data)
	if err != nil {
		e.logger.Warn("image text extraction failed", "error", err)
		return ""
	}
	return NormalizeWhitespace(text)
}

func (e *Extractor) pdfText(ctx context.Context, data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", ErrUnextractableAttachment
	}
	// Encrypted documents cannot be read without the password.
	if bytes.Contains(data, []byte("/Encrypt")) {
		return "", ErrUnextractableAttachment
	}
	if e.pdfs == nil {
		return "", ErrUnextractableAttachment
	}
	text, err := e.pdfs.ExtractPDFText(ctx, data)
	if err != nil {
		return "", ErrUnextractableAttachment
	}
	return NormalizeWhitespace(text), nil
}
