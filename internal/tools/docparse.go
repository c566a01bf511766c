package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nicodishanthj/echogarden/internal/store"
)

// ErrUnparseable marks content the local parser cannot extract text from.
// The orchestrator commits a placeholder card instead of failing the blob.
var ErrUnparseable = errors.New("unparseable content")

// DocParseTool extracts plain text from text-like blobs. Binary document
// formats (pdf, docx, pptx) need the external parser engine, which is out
// of process; without it they surface ErrUnparseable.
type DocParseTool struct {
	store *store.Store
}

func NewDocParseTool(st *store.Store) *DocParseTool {
	return &DocParseTool{store: st}
}

func (t *DocParseTool) Spec() Spec {
	return Spec{
		Name:        "doc_parse",
		Description: "Extract text from a document blob.",
		Required:    []string{"blob_id"},
		InputSchema: map[string]string{"blob_id": "string"},
		OutputSchema: map[string]string{
			"text": "string", "mime": "string", "title": "string",
		},
		TimeoutMS: 15000,
	}
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

func (t *DocParseTool) Run(ctx context.Context, in Inputs) (Outputs, error) {
	blob, err := t.store.GetBlob(ctx, in.String("blob_id"))
	if err != nil {
		return nil, fmt.Errorf("load blob: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(blob.Path))
	switch ext {
	case ".pdf", ".docx", ".pptx":
		return nil, fmt.Errorf("%w: %s parser engine not attached", ErrUnparseable, ext)
	}
	data, err := os.ReadFile(blob.Path)
	if err != nil {
		return nil, fmt.Errorf("read blob bytes: %w", err)
	}
	if !isMostlyText(data) {
		return nil, fmt.Errorf("%w: binary content", ErrUnparseable)
	}
	text := string(data)
	if ext == ".html" || ext == ".htm" || strings.HasPrefix(blob.Mime, "text/html") {
		text = htmlTagPattern.ReplaceAllString(text, " ")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty document", ErrUnparseable)
	}
	return Outputs{
		"text":  text,
		"mime":  blob.Mime,
		"title": filepath.Base(blob.Path),
	}, nil
}

// isMostlyText rejects payloads where more than 10% of a leading sample is
// non-printable, the same heuristic the chat input filter applies.
func isMostlyText(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	var binary int
	for _, b := range sample {
		if b == 0 || (b < 0x09) || (b > 0x0d && b < 0x20) {
			binary++
		}
	}
	return float64(binary)/float64(len(sample)) <= 0.10
}
