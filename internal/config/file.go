package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	fileMu     sync.RWMutex
	fileValues map[string]string
)

// LoadFile reads a YAML file of configuration keys. Keys use the same names as the
// environment variables and may be grouped under arbitrary sections:
//
//	scheduler:
//	  MAX_CONCURRENT_RUNS: 3
//	  RUN_TIMEOUT: 30m
//
// Environment variables always take precedence over file values.
func LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	values := make(map[string]string)
	flatten(doc, values)

	fileMu.Lock()
	fileValues = values
	fileMu.Unlock()
	return nil
}

// ResetFile discards values loaded by LoadFile.
func ResetFile() {
	fileMu.Lock()
	fileValues = nil
	fileMu.Unlock()
}

func fileValue(key string) string {
	fileMu.RLock()
	defer fileMu.RUnlock()
	return fileValues[key]
}

func flatten(node map[string]any, out map[string]string) {
	for k, v := range node {
		switch val := v.(type) {
		case map[string]any:
			flatten(val, out)
		case nil:
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(val)
		}
	}
}
