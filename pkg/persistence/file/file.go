// Package file provides file-based persistence implementation for workflows and agents.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/flowpilot/pkg/persistence"
)

// Persistence implements persistence.Store using one JSON file per record.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// validateID validates that the record ID is safe for file operations.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", persistence.ErrInvalidID)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%w: id contains invalid characters", persistence.ErrInvalidID)
	}

	return nil
}

func (fp *Persistence) path(kind persistence.Kind, id string) string {
	return filepath.Join(fp.root, string(kind), id+".json")
}

func (fp *Persistence) Create(_ context.Context, kind persistence.Kind, id string, record any) error {
	if err := validateID(id); err != nil {
		return persistence.NewRecordError("Create", kind, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	if _, err := os.Stat(fp.path(kind, id)); err == nil {
		return persistence.NewRecordError("Create", kind, id, persistence.ErrAlreadyExists)
	}

	return fp.write(kind, id, record)
}

func (fp *Persistence) Put(_ context.Context, kind persistence.Kind, id string, record any) error {
	if err := validateID(id); err != nil {
		return persistence.NewRecordError("Put", kind, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	return fp.write(kind, id, record)
}

func (fp *Persistence) Get(_ context.Context, kind persistence.Kind, id string, dest any) error {
	if err := validateID(id); err != nil {
		return persistence.NewRecordError("Get", kind, id, err)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	data, err := fp.read(kind, id)
	if err != nil {
		return persistence.NewRecordError("Get", kind, id, err)
	}

	err = json.Unmarshal(data, dest)
	if err != nil {
		return persistence.NewRecordError("Get", kind, id, fmt.Errorf("failed to decode record: %w", err))
	}

	return nil
}

func (fp *Persistence) Update(_ context.Context, kind persistence.Kind, id string, fields map[string]any) error {
	if err := validateID(id); err != nil {
		return persistence.NewRecordError("Update", kind, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	data, err := fp.read(kind, id)
	if err != nil {
		return persistence.NewRecordError("Update", kind, id, err)
	}

	current := make(map[string]any)

	err = json.Unmarshal(data, &current)
	if err != nil {
		return persistence.NewRecordError("Update", kind, id, fmt.Errorf("failed to decode record: %w", err))
	}

	patch, err := persistence.ToFields(fields)
	if err != nil {
		return persistence.NewRecordError("Update", kind, id, fmt.Errorf("failed to encode fields: %w", err))
	}

	for key, value := range patch {
		current[key] = value
	}

	return fp.write(kind, id, current)
}

func (fp *Persistence) Increment(_ context.Context, kind persistence.Kind, id, field string, by int64, fields map[string]any) error {
	if err := validateID(id); err != nil {
		return persistence.NewRecordError("Increment", kind, id, err)
	}

	if err := persistence.ValidateField(field); err != nil {
		return persistence.NewRecordError("Increment", kind, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	data, err := fp.read(kind, id)
	if err != nil {
		return persistence.NewRecordError("Increment", kind, id, err)
	}

	current := make(map[string]any)

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	err = decoder.Decode(&current)
	if err != nil {
		return persistence.NewRecordError("Increment", kind, id, fmt.Errorf("failed to decode record: %w", err))
	}

	var value int64

	if raw, ok := current[field]; ok && raw != nil {
		number, ok := raw.(json.Number)
		if !ok {
			return persistence.NewRecordError("Increment", kind, id, fmt.Errorf("field %s is not a number", field))
		}

		value, err = number.Int64()
		if err != nil {
			return persistence.NewRecordError("Increment", kind, id, fmt.Errorf("field %s is not an integer: %w", field, err))
		}
	}

	patch, err := persistence.ToFields(fields)
	if err != nil {
		return persistence.NewRecordError("Increment", kind, id, fmt.Errorf("failed to encode fields: %w", err))
	}

	for key, v := range patch {
		current[key] = v
	}

	current[field] = value + by

	return fp.write(kind, id, current)
}

func (fp *Persistence) Delete(_ context.Context, kind persistence.Kind, id string) error {
	if err := validateID(id); err != nil {
		return persistence.NewRecordError("Delete", kind, id, err)
	}

	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := os.Remove(fp.path(kind, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.NewRecordError("Delete", kind, id, persistence.ErrNotFound)
		}

		return persistence.NewRecordError("Delete", kind, id, err)
	}

	return nil
}

func (fp *Persistence) Filter(_ context.Context, kind persistence.Kind, query persistence.Query) ([]json.RawMessage, error) {
	if err := query.Validate(); err != nil {
		return nil, persistence.NewRecordError("Filter", kind, "", err)
	}

	where, err := query.NormalizedWhere()
	if err != nil {
		return nil, persistence.NewRecordError("Filter", kind, "", err)
	}

	fp.mu.RLock()
	defer fp.mu.RUnlock()

	root := os.DirFS(filepath.Join(fp.root, string(kind)))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, persistence.NewRecordError("Filter", kind, "", fmt.Errorf("failed to list files: %w", err))
	}

	type match struct {
		raw    json.RawMessage
		fields map[string]any
	}

	matches := make([]match, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		data, err := fs.ReadFile(root, file)
		if err != nil {
			return nil, persistence.NewRecordError("Filter", kind, file, err)
		}

		fields := make(map[string]any)

		err = json.Unmarshal(data, &fields)
		if err != nil {
			return nil, persistence.NewRecordError("Filter", kind, file, fmt.Errorf("failed to decode record: %w", err))
		}

		if persistence.Matches(fields, where) {
			matches = append(matches, match{raw: data, fields: fields})
		}
	}

	if query.SortBy != "" {
		slices.SortStableFunc(matches, func(a, b match) int {
			cmp := persistence.CompareFields(a.fields[query.SortBy], b.fields[query.SortBy])
			if query.Descending {
				return -cmp
			}

			return cmp
		})
	}

	if query.Offset >= len(matches) {
		return []json.RawMessage{}, nil
	}

	matches = matches[query.Offset:]
	if query.Limit > 0 && query.Limit < len(matches) {
		matches = matches[:query.Limit]
	}

	result := make([]json.RawMessage, 0, len(matches))
	for _, m := range matches {
		result = append(result, m.raw)
	}

	return result, nil
}

func (fp *Persistence) read(kind persistence.Kind, id string) ([]byte, error) {
	data, err := os.ReadFile(fp.path(kind, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, persistence.ErrNotFound
		}

		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	return data, nil
}

// write stores the record atomically through a temp file rename. Callers hold fp.mu.
func (fp *Persistence) write(kind persistence.Kind, id string, record any) error {
	dir := filepath.Join(fp.root, string(kind))

	err := os.MkdirAll(dir, 0750)
	if err != nil {
		return persistence.NewRecordError("Write", kind, id, fmt.Errorf("failed to create directory: %w", err))
	}

	data, err := json.Marshal(record)
	if err != nil {
		return persistence.NewRecordError("Write", kind, id, fmt.Errorf("failed to marshal record: %w", err))
	}

	tmp := fp.path(kind, id) + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return persistence.NewRecordError("Write", kind, id, err)
	}

	err = os.Rename(tmp, fp.path(kind, id))
	if err != nil {
		return persistence.NewRecordError("Write", kind, id, err)
	}

	return nil
}
