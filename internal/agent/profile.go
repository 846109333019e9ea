package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadProfileFile reads a persona profile from a JSON or YAML file. The
// format is chosen by extension; anything other than .json is read as YAML.
func LoadProfileFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	profile := make(map[string]any)
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &profile)
	} else {
		err = yaml.Unmarshal(data, &profile)
	}
	if err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	return profile, nil
}

// IsProfileFile reports whether path names a profile file LoadProfileFile
// understands.
func IsProfileFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
