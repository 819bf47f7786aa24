package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

const imagePrompt = "Transcribe every piece of text visible in this image, verbatim. " +
	"Include phone numbers, email addresses, handles, and URLs exactly as written. " +
	"If the image contains no text, describe in one sentence what it shows. " +
	"Return only the transcription or description, nothing else."

const pdfPrompt = "Extract all textual content from this document, verbatim. " +
	"Return only the extracted text, nothing else."

// BedrockExtractor pulls text out of image and PDF attachments using a
// multimodal Bedrock model. It satisfies both ImageTextExtractor and
// PDFTextExtractor.
type BedrockExtractor struct {
	api     bedrockConverseAPI
	modelID string
}

func NewBedrockExtractor(api bedrockConverseAPI, modelID string) (*BedrockExtractor, error) {
	if api == nil {
		return nil, errors.New("extract: bedrock converse client required")
	}
	if strings.TrimSpace(modelID) == "" {
		return nil, errors.New("extract: bedrock model id required")
	}
	return &BedrockExtractor{api: api, modelID: modelID}, nil
}

// ExtractImageText performs OCR-equivalent extraction on an image.
func (e *BedrockExtractor) ExtractImageText(ctx context.Context, data []byte) (string, error) {
	format, err := imageFormat(data)
	if err != nil {
		return "", err
	}
	return e.converse(ctx, imagePrompt, &brtypes.ContentBlockMemberImage{
		Value: brtypes.ImageBlock{
			Format: format,
			Source: &brtypes.ImageSourceMemberBytes{Value: data},
		},
	})
}

// ExtractPDFText pulls all textual content from a PDF document.
func (e *BedrockExtractor) ExtractPDFText(ctx context.Context, data []byte) (string, error) {
	return e.converse(ctx, pdfPrompt, &brtypes.ContentBlockMemberDocument{
		Value: brtypes.DocumentBlock{
			Format: brtypes.DocumentFormatPdf,
			Name:   aws.String("attachment"),
			Source: &brtypes.DocumentSourceMemberBytes{Value: data},
		},
	})
}

func (e *BedrockExtractor) converse(ctx context.Context, prompt string, block brtypes.ContentBlock) (string, error) {
	out, err := e.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(e.modelID),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					block,
					&brtypes.ContentBlockMemberText{Value: prompt},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(2048),
			Temperature: aws.Float32(0),
		},
	})
	if err != nil {
		return "", fmt.Errorf("extract: bedrock converse: %w", err)
	}

	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("extract: bedrock response did not include a message output")
	}

	var builder strings.Builder
	for _, content := range msgOut.Value.Content {
		if text, ok := content.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(text.Value)
		}
	}
	return strings.TrimSpace(builder.String()), nil
}

func imageFormat(data []byte) (brtypes.ImageFormat, error) {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return brtypes.ImageFormatPng, nil
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return brtypes.ImageFormatJpeg, nil
	case bytes.HasPrefix(data, []byte("GIF8")):
		return brtypes.ImageFormatGif, nil
	case len(data) > 11 && bytes.Equal(data[8:12], []byte("WEBP")):
		return brtypes.ImageFormatWebp, nil
	default:
		return "", errors.New("extract: unsupported image format")
	}
}
