package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/config"
	"github.com/nicodishanthj/echogarden/internal/store"
)

// OCRTool extracts text from image blobs. Stub mode returns a deterministic
// caption seeded by the blob so offline pipelines still produce indexable
// cards; local mode requires the OCR engine, which runs out of process.
type OCRTool struct {
	store *store.Store
	mode  config.Mode
}

func NewOCRTool(st *store.Store, mode config.Mode) *OCRTool {
	return &OCRTool{store: st, mode: mode}
}

func (t *OCRTool) Spec() Spec {
	return Spec{
		Name:        "ocr",
		Description: "Recognize text in an image blob.",
		Required:    []string{"blob_id"},
		InputSchema: map[string]string{"blob_id": "string"},
		OutputSchema: map[string]string{
			"text": "string", "language": "string", "conf": "number",
		},
		TimeoutMS: 20000,
	}
}

func (t *OCRTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	blob, err := t.store.GetBlob(ctx, in.String("blob_id"))
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	if t.mode == config.ModeLocal {
		return nil, fmt.Errorf("ocr engine not attached")
	}
	name := strings.TrimSuffix(filepath.Base(blob.Path), filepath.Ext(blob.Path))
	return Outputs{
		"text":     fmt.Sprintf("Image %s (sha %s)", name, shortSha(blob.SHA256)),
		"language": "en",
		"conf":     0.25,
	}, nil
}

// ASRTool transcribes audio blobs. whisper_mode selects the real engine or
// the deterministic stub.
type ASRTool struct {
	store *store.Store
	mode  config.Mode
}

func NewASRTool(st *store.Store, mode config.Mode) *ASRTool {
	return &ASRTool{store: st, mode: mode}
}

func (t *ASRTool) Spec() Spec {
	return Spec{
		Name:        "asr",
		Description: "Transcribe an audio blob to text.",
		Required:    []string{"blob_id"},
		InputSchema: map[string]string{"blob_id": "string"},
		OutputSchema: map[string]string{
			"text": "string", "language": "string",
		},
		TimeoutMS: 60000,
	}
}

func (t *ASRTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	blob, err := t.store.GetBlob(ctx, in.String("blob_id"))
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	if t.mode == config.ModeLocal {
		return nil, fmt.Errorf("whisper engine not attached")
	}
	name := strings.TrimSuffix(filepath.Base(blob.Path), filepath.Ext(blob.Path))
	return Outputs{
		"text":     fmt.Sprintf("Audio note %s (sha %s)", name, shortSha(blob.SHA256)),
		"language": "en",
	}, nil
}

func shortSha(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
