package services

import (
	"fmt"
	"os"
	"strconv"

	"github.com/Lllllllleong/pdfocrflow/internal/gcp"
	"github.com/Lllllllleong/pdfocrflow/internal/raster"
	"gopkg.in/yaml.v3"
)

// OCRConfig holds all configuration for the OCR services.
type OCRConfig struct {
	ProjectID        string `yaml:"project_id"`
	VertexAIRegion   string `yaml:"vertex_ai_region"`
	APIKey           string `yaml:"-"`
	UseAPIKey        bool   `yaml:"use_api_key"`
	Model            string `yaml:"model"`
	Prompt           string `yaml:"prompt"`
	OutputRoot       string `yaml:"output_root"`
	PdftoppmPath     string `yaml:"pdftoppm_path"`
	RasterDPI        int    `yaml:"raster_dpi"`
	JPEGQuality      int    `yaml:"jpeg_quality"`
	Concurrency      int    `yaml:"ocr_concurrency"`
	CollectionName   string `yaml:"firestore_collection"`
	ResultsBucket    string `yaml:"results_bucket"`
	WorkflowID       string `yaml:"workflow_id"`
	WorkflowLocation string `yaml:"workflow_location"`
}

func defaultConfig() OCRConfig {
	return OCRConfig{
		VertexAIRegion:   "us-central1",
		Model:            gcp.DefaultOCRModel,
		Prompt:           gcp.DefaultOCRPrompt,
		OutputRoot:       "output",
		PdftoppmPath:     "pdftoppm",
		RasterDPI:        raster.DefaultDPI,
		JPEGQuality:      90,
		Concurrency:      1,
		WorkflowLocation: "us-central1",
	}
}

// LoadConfig reads the optional YAML file named by CONFIG_FILE, then applies
// environment overrides. The API key only comes from the environment and is required.
// Vertex calls send it only when UseAPIKey is set and use Application Default
// Credentials otherwise.
func LoadConfig() (*OCRConfig, error) {
	cfg := defaultConfig()

	if path := gcp.GetEnv("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.ProjectID = gcp.GetEnv("PROJECT_ID", cfg.ProjectID)
	cfg.VertexAIRegion = gcp.GetEnv("VERTEX_AI_REGION", cfg.VertexAIRegion)
	cfg.APIKey = gcp.GetEnv("GEMINI_API_KEY", "")
	cfg.Model = gcp.GetEnv("OCR_MODEL", cfg.Model)
	cfg.Prompt = gcp.GetEnv("OCR_PROMPT", cfg.Prompt)
	cfg.OutputRoot = gcp.GetEnv("OUTPUT_ROOT", cfg.OutputRoot)
	cfg.PdftoppmPath = gcp.GetEnv("PDFTOPPM_PATH", cfg.PdftoppmPath)
	cfg.CollectionName = gcp.GetEnv("FIRESTORE_COLLECTION", cfg.CollectionName)
	cfg.ResultsBucket = gcp.GetEnv("RESULTS_BUCKET", cfg.ResultsBucket)
	cfg.WorkflowID = gcp.GetEnv("WORKFLOW_ID", cfg.WorkflowID)
	cfg.WorkflowLocation = gcp.GetEnv("WORKFLOW_LOCATION", cfg.WorkflowLocation)

	var err error
	if raw := gcp.GetEnv("VERTEX_USE_API_KEY", ""); raw != "" {
		if cfg.UseAPIKey, err = strconv.ParseBool(raw); err != nil {
			return nil, fmt.Errorf("VERTEX_USE_API_KEY must be a boolean: %w", err)
		}
	}
	if cfg.RasterDPI, err = envInt("RASTER_DPI", cfg.RasterDPI); err != nil {
		return nil, err
	}
	if cfg.JPEGQuality, err = envInt("JPEG_QUALITY", cfg.JPEGQuality); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = envInt("OCR_CONCURRENCY", cfg.Concurrency); err != nil {
		return nil, err
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable must be set")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputRoot == "" {
		return nil, fmt.Errorf("OUTPUT_ROOT cannot be empty")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &cfg, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}
