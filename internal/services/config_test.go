package services

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var configKeys = []string{
	"CONFIG_FILE", "PROJECT_ID", "VERTEX_AI_REGION", "GEMINI_API_KEY", "OCR_MODEL",
	"OCR_PROMPT", "OUTPUT_ROOT", "PDFTOPPM_PATH", "RASTER_DPI", "JPEG_QUALITY",
	"OCR_CONCURRENCY", "FIRESTORE_COLLECTION", "RESULTS_BUCKET", "WORKFLOW_ID", "WORKFLOW_LOCATION",
	"VERTEX_USE_API_KEY",
}

// clearConfigEnv unsets every config key for the duration of the test.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PROJECT_ID", "proj")
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.OutputRoot != "output" || cfg.RasterDPI != 300 || cfg.JPEGQuality != 90 || cfg.Concurrency != 1 {
		t.Errorf("LoadConfig() = %+v, want defaults", cfg)
	}
	if cfg.Model != "gemini-2.0-flash" || cfg.VertexAIRegion != "us-central1" || cfg.PdftoppmPath != "pdftoppm" {
		t.Errorf("LoadConfig() = %+v, want default model, region and renderer", cfg)
	}
	if cfg.UseAPIKey {
		t.Error("UseAPIKey = true by default, want Application Default Credentials")
	}
	if cfg.ResultsBucket != "" || cfg.CollectionName != "" || cfg.WorkflowID != "" {
		t.Errorf("optional integrations enabled by default: %+v", cfg)
	}
}

func TestLoadConfig_FailsFast(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing api key", map[string]string{"PROJECT_ID": "proj"}, "GEMINI_API_KEY"},
		{"empty api key", map[string]string{"PROJECT_ID": "proj", "GEMINI_API_KEY": ""}, "GEMINI_API_KEY"},
		{"missing project", map[string]string{"GEMINI_API_KEY": "key"}, "PROJECT_ID"},
		{"empty output root", map[string]string{"PROJECT_ID": "proj", "GEMINI_API_KEY": "key", "OUTPUT_ROOT": ""}, "OUTPUT_ROOT"},
		{"bad dpi", map[string]string{"PROJECT_ID": "proj", "GEMINI_API_KEY": "key", "RASTER_DPI": "high"}, "RASTER_DPI"},
		{"bad api key flag", map[string]string{"PROJECT_ID": "proj", "GEMINI_API_KEY": "key", "VERTEX_USE_API_KEY": "maybe"}, "VERTEX_USE_API_KEY"},
		{"missing config file", map[string]string{"CONFIG_FILE": "/does/not/exist.yaml"}, "config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	clearConfigEnv(t)
	path := filepath.Join(t.TempDir(), "ocr.yaml")
	yaml := "project_id: from-file\noutput_root: /srv/ocr\nraster_dpi: 150\nocr_concurrency: 4\nprompt: file prompt\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("OCR_CONCURRENCY", "0")
	t.Setenv("OCR_PROMPT", "env prompt")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.ProjectID != "from-file" || cfg.OutputRoot != "/srv/ocr" || cfg.RasterDPI != 150 {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Prompt != "env prompt" {
		t.Errorf("Prompt = %q, want the environment to win", cfg.Prompt)
	}
	if cfg.Concurrency != 1 {
		t.Errorf("Concurrency = %d, want clamp to 1", cfg.Concurrency)
	}
	if cfg.JPEGQuality != 90 {
		t.Errorf("JPEGQuality = %d, want default kept", cfg.JPEGQuality)
	}
}

func TestLoadConfig_APIKeyAuthOptIn(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PROJECT_ID", "proj")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("VERTEX_USE_API_KEY", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if !cfg.UseAPIKey || cfg.APIKey != "key" {
		t.Errorf("LoadConfig() = %+v, want API key auth enabled", cfg)
	}
}
