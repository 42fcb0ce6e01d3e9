// Package reviewio reads review requests from and writes review responses to
// files.
package reviewio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/xiaot623/gogo/prreview/internal/domain"
)

// ReadRequest loads and validates a review request. Undecodable or invalid
// content is reported as a *domain.ValidationError.
func ReadRequest(fs afero.Fs, path string) (*domain.ReviewRequest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	req, err := DecodeRequest(data)
	if err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeRequest parses and validates a JSON review request.
func DecodeRequest(data []byte) (*domain.ReviewRequest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &domain.ValidationError{Field: "request", Message: "request body is empty"}
	}
	var req domain.ReviewRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &domain.ValidationError{Field: "request", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// WriteResponse writes resp as indented JSON, creating parent directories.
// The file is replaced atomically.
func WriteResponse(fs afero.Fs, path string, resp *domain.ReviewResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return writeFile(fs, path, append(data, '\n'))
}

func writeFile(fs afero.Fs, path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		_ = fs.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}

// Archive stores completed responses as <executionID>.json under a
// directory.
type Archive struct {
	fs  afero.Fs
	dir string
}

// NewArchive creates an archive rooted at dir.
func NewArchive(fs afero.Fs, dir string) *Archive {
	return &Archive{fs: fs, dir: dir}
}

func (a *Archive) path(executionID string) string {
	return filepath.Join(a.dir, executionID+".json")
}

// Save writes the response of a completed execution.
func (a *Archive) Save(executionID string, resp *domain.ReviewResponse) error {
	return WriteResponse(a.fs, a.path(executionID), resp)
}

// Load returns an archived response, or domain.ErrExecutionNotFound.
func (a *Archive) Load(executionID string) (*domain.ReviewResponse, error) {
	data, err := afero.ReadFile(a.fs, a.path(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to read archived response: %w", err)
	}
	var resp domain.ReviewResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode archived response %s: %w", executionID, err)
	}
	return &resp, nil
}
