package engine

import (
	"encoding/json"
	"os"
)

// LoadConfig reads and parses a quotascope config file. A missing file
// is not an error: every service runs with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
