package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Format is a serialization format for exported reports.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}

	return "", errors.New().WithData(errors.ErrInvalidParams, "unsupported report format "+s)
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	if f == FormatYAML {
		return "yaml"
	}

	return "json"
}

// Export serializes v. Failures are returned as export_failed errors.
func Export(v any, format Format) ([]byte, error) {
	errFactory := errors.New()

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrExportFailure, err)
		}

		return data, nil
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := encodeYAML(enc, v); err != nil {
			return nil, errFactory.Wrap(errors.ErrExportFailure, err)
		}
		if err := enc.Close(); err != nil {
			return nil, errFactory.Wrap(errors.ErrExportFailure, err)
		}

		return buf.Bytes(), nil
	}

	return nil, errFactory.WithData(errors.ErrExportFailure, "unsupported report format "+string(format))
}

// yaml.v3 panics on some unsupported values instead of returning an error.
func encodeYAML(enc *yaml.Encoder, v any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New().WithData(errors.ErrExportFailure, r)
		}
	}()

	return enc.Encode(v)
}

// Parse decodes data produced by Export into v.
func Parse(data []byte, format Format, v any) error {
	errFactory := errors.New()

	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, v)
	case FormatYAML:
		err = yaml.Unmarshal(data, v)
	default:
		return errFactory.WithData(errors.ErrInvalidParams, "unsupported report format "+string(format))
	}

	if err != nil {
		return errFactory.Wrap(errors.ErrInvalidParams, err)
	}

	return nil
}

// FileExporter writes exported reports into a directory atomically.
type FileExporter struct {
	dir string
}

func NewFileExporter(dir string) *FileExporter {
	return &FileExporter{dir: dir}
}

// Write stores data under name and returns the file location.
func (f *FileExporter) Write(name string, data []byte) (string, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", errFactory.Wrap(errors.ErrExportFailure, err)
	}

	path := filepath.Join(f.dir, filepath.Base(name))
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", errFactory.Wrap(errors.ErrExportFailure, err)
	}

	return path, nil
}
