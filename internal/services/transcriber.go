package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/disintegration/imaging"
)

// PlaceholderTranscript is written in place of a page the model could not transcribe.
const PlaceholderTranscript = "⚠️ No OCR output"

var (
	// ErrEmptyTranscript means the model answered without any text.
	ErrEmptyTranscript = errors.New("model returned no text")
	// ErrModelRefusal means the model declined to transcribe the page.
	ErrModelRefusal = errors.New("model refused to transcribe page")
)

// Transcription is the successful result of one OCR call.
type Transcription struct {
	Text  string
	Usage int
}

// PageTranscriber turns one page image into text. A non-nil error means the
// page failed; the returned Transcription is then meaningless.
type PageTranscriber interface {
	Transcribe(ctx context.Context, img image.Image, prompt string) (Transcription, error)
}

// contentGenerator is the part of *genai.GenerativeModel the transcriber needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Transcriber sends pages to Gemini, one page per call, without retries.
type Transcriber struct {
	model       contentGenerator
	jpegQuality int
}

// NewTranscriber wraps a configured generative model.
func NewTranscriber(model contentGenerator, jpegQuality int) *Transcriber {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = 90
	}
	return &Transcriber{model: model, jpegQuality: jpegQuality}
}

// refusedFinishReasons end a candidate without a transcription of the page.
var refusedFinishReasons = map[genai.FinishReason]bool{
	genai.FinishReasonSafety:            true,
	genai.FinishReasonRecitation:        true,
	genai.FinishReasonOther:             true,
	genai.FinishReasonBlocklist:         true,
	genai.FinishReasonProhibitedContent: true,
	genai.FinishReasonSpii:              true,
}

// Transcribe encodes img as JPEG and asks the model to extract its text.
func (t *Transcriber) Transcribe(ctx context.Context, img image.Image, prompt string) (Transcription, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(t.jpegQuality)); err != nil {
		return Transcription{}, fmt.Errorf("failed to encode page as jpeg: %w", err)
	}

	resp, err := t.model.GenerateContent(ctx, genai.ImageData("jpeg", buf.Bytes()), genai.Text(prompt))
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return Transcription{}, fmt.Errorf("%w: %v", ErrModelRefusal, blocked)
	}
	if err != nil {
		return Transcription{}, fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	if err := refusalOf(resp); err != nil {
		return Transcription{}, err
	}

	text := extractText(resp)
	if strings.TrimSpace(text) == "" {
		return Transcription{}, ErrEmptyTranscript
	}
	return Transcription{Text: text, Usage: usageOf(resp)}, nil
}

func refusalOf(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockedReasonUnspecified {
		return fmt.Errorf("%w: prompt blocked (%v)", ErrModelRefusal, fb.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		if reason := resp.Candidates[0].FinishReason; refusedFinishReasons[reason] {
			return fmt.Errorf("%w: %v", ErrModelRefusal, reason)
		}
	}
	return nil
}

// extractText concatenates the text parts of the first candidate. The text is
// returned as is unless the whole answer is wrapped in a single code fence.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil ||
		resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if body, ok := unfence(sb.String()); ok {
		return body
	}
	return sb.String()
}

// unfence strips a fence that opens on the first line (with an optional
// language tag) and closes on the last one.
func unfence(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") || !strings.HasSuffix(t, "```") {
		return "", false
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return "", false
	}
	tag := t[3:nl]
	if strings.ContainsAny(strings.TrimSpace(tag), " \t`") {
		return "", false
	}
	body := t[nl+1 : len(t)-3]
	if strings.Contains(body, "```") {
		return "", false
	}
	return strings.TrimSuffix(body, "\n"), true
}

func usageOf(resp *genai.GenerateContentResponse) int {
	if resp == nil || resp.UsageMetadata == nil || resp.UsageMetadata.TotalTokenCount < 0 {
		return 0
	}
	return int(resp.UsageMetadata.TotalTokenCount)
}
