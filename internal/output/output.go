// Package output writes competitor batch documents to disk after checking
// them against the embedded JSON schema.
package output

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/maltedev/competitor-price-scraper/internal/checkpoint"
	"github.com/maltedev/competitor-price-scraper/internal/models"
)

//go:embed batch_output.schema.json
var batchSchema string

var schemaLoader = gojsonschema.NewStringLoader(batchSchema)

// ValidationError lists every schema violation of a document.
type ValidationError struct {
	Errors []FieldError
}

type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("batch output validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// Validate checks a serialized batch document against the schema.
func Validate(doc []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to validate batch output: %w", err)
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}

// Writer stores batch documents under Dir.
type Writer struct {
	Dir    string
	logger *slog.Logger
}

func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{Dir: dir, logger: logger.With("component", "output")}
}

// FileName is <competitor>_<YYYYMMDD_HHMMSS>.json, taken from the batch start.
func FileName(out *models.BatchOutput) string {
	return fmt.Sprintf("%s_%s.json",
		checkpoint.SafeID(out.CompetitorID),
		out.StartedAt.UTC().Format("20060102_150405"))
}

// Write validates out and writes it atomically. It returns the file path.
func (w *Writer) Write(out *models.BatchOutput) (string, error) {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch output: %w", err)
	}
	if err := Validate(data); err != nil {
		return "", err
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(w.Dir, FileName(out))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write batch output: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to rename batch output: %w", err)
	}

	w.logger.Info("batch output written",
		"path", path,
		"competitor", out.CompetitorID,
		"results", len(out.Results))
	return path, nil
}

// Read loads a batch document written by Write.
func Read(path string) (*models.BatchOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch output: %w", err)
	}
	if err := Validate(data); err != nil {
		return nil, err
	}
	var out models.BatchOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse batch output: %w", err)
	}
	return &out, nil
}
