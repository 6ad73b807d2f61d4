package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// --- OCR Model Prompts ---
const OCRSystemPrompt = "You are an optical character recognition engine. You receive one scanned page at a time and transcribe its readable text exactly as printed. You never summarize, translate, or comment on the page."
const DefaultOCRPrompt = "Extract all readable text from this image. Return only plain text without formatting or metadata."

// DefaultOCRModel is used when no model name is configured.
const DefaultOCRModel = "gemini-2.0-flash"

// VertexClient holds the pre-configured OCR model.
type VertexClient struct {
	OCRModel   *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexClient creates a client with a pre-configured OCR model. Without
// opts it authenticates with Application Default Credentials.
func NewVertexClient(ctx context.Context, projectID, region, modelName string, opts ...option.ClientOption) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = DefaultOCRModel
	}

	baseClient, err := genai.NewClient(ctx, projectID, region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	ocrModel := baseClient.GenerativeModel(modelName)
	ocrModel.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(OCRSystemPrompt)},
	}
	ocrModel.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "text/plain",
		Temperature:      genai.Ptr[float32](0.0),
	}
	ocrModel.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexClient{
		OCRModel:   ocrModel,
		baseClient: baseClient,
	}, nil
}

func (c *VertexClient) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}
