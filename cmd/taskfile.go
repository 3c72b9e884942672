// cmd/taskfile.go
package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/focusfix/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// loadTaskFile reads a task descriptor from a .json file, or from YAML for
// any other extension. YAML keys are snake_case and durations are written as
// strings such as "30s"; JSON keys are camelCase.
func loadTaskFile(path string) (schemas.TaskDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schemas.TaskDescriptor{}, fmt.Errorf("failed to read task file: %w", err)
	}
	return decodeTask(data, strings.ToLower(filepath.Ext(path)))
}

func decodeTask(data []byte, ext string) (schemas.TaskDescriptor, error) {
	var task schemas.TaskDescriptor
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &task); err != nil {
			return task, fmt.Errorf("failed to parse JSON task: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&task); err != nil {
			return task, fmt.Errorf("failed to parse YAML task: %w", err)
		}
	}
	if err := task.Validate(); err != nil {
		return task, fmt.Errorf("invalid task descriptor: %w", err)
	}
	return task, nil
}
