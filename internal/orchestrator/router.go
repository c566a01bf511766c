package orchestrator

import (
	"path/filepath"
	"strings"
)

// Pipeline classes chosen by mime/extension routing.
const (
	PipelineDoc         = "doc"
	PipelineOCR         = "ocr"
	PipelineASR         = "asr"
	PipelineText        = "text"
	PipelinePlaceholder = "placeholder"
)

// PipelineVersion tags card metadata; bump when a pipeline's tool sequence
// changes.
const PipelineVersion = "1"

var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".json": {}, ".csv": {}, ".log": {},
	".pdf": {}, ".docx": {}, ".pptx": {}, ".html": {}, ".htm": {},
}

var audioExtensions = map[string]struct{}{
	".wav": {}, ".mp3": {}, ".m4a": {}, ".ogg": {}, ".flac": {},
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {},
	".tiff": {}, ".webp": {}, ".svg": {},
}

var docMimes = map[string]struct{}{
	"application/pdf": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/json": {},
}

// ChoosePipeline maps a blob's mime and path onto a pipeline class.
func ChoosePipeline(mime, path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return PipelineOCR
	case strings.HasPrefix(mime, "audio/"):
		return PipelineASR
	}
	if _, ok := imageExtensions[ext]; ok {
		return PipelineOCR
	}
	if _, ok := audioExtensions[ext]; ok {
		return PipelineASR
	}
	if strings.HasPrefix(mime, "text/") {
		return PipelineDoc
	}
	if _, ok := docMimes[mime]; ok {
		return PipelineDoc
	}
	if _, ok := textExtensions[ext]; ok {
		return PipelineDoc
	}
	return PipelinePlaceholder
}

// cardTypeFor maps a pipeline class to the coarse human-readable card type.
func cardTypeFor(pipeline string) string {
	switch pipeline {
	case PipelineDoc:
		return "document"
	case PipelineOCR:
		return "image"
	case PipelineASR:
		return "audio_note"
	case PipelineText:
		return "note"
	default:
		return "placeholder"
	}
}
