package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoadMetadata reads a JSON or YAML (.yaml, .yml) metadata file.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &metadata)
	default:
		err = json.Unmarshal(data, &metadata)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	metadata.applyDefaults()
	if err := metadata.Validate(); err != nil {
		return Metadata{}, fmt.Errorf("invalid metadata %s: %w", path, err)
	}

	return metadata, nil
}
