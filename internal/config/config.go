package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Settings is the operator-owned configuration file. The engine never
// writes it; the daemon re-reads it when it changes on disk.
type Settings struct {
	Secret                 string   `json:"secret"`
	SyncIntervalMinutes    int      `json:"syncIntervalMinutes"`
	AutoDeleteMissingPages bool     `json:"autoDeleteMissingPages"`
	VaultPath              string   `json:"vaultPath"`
	RootFolderPath         string   `json:"rootFolderPath"`
	AssetFolderPath        string   `json:"assetFolderPath"`
	FilteredIDs            []string `json:"filteredIds"`
	StateDSN               string   `json:"stateDSN"`
	ListenAddr             string   `json:"listenAddr"`
	LogFile                string   `json:"logFile"`
}

const schemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"secret": {"type": "string"},
		"syncIntervalMinutes": {"type": "integer", "minimum": 0},
		"autoDeleteMissingPages": {"type": "boolean"},
		"vaultPath": {"type": "string"},
		"rootFolderPath": {"type": "string"},
		"assetFolderPath": {"type": "string"},
		"filteredIds": {"type": "array", "items": {"type": "string"}},
		"stateDSN": {"type": "string"},
		"listenAddr": {"type": "string"},
		"logFile": {"type": "string"}
	},
	"additionalProperties": false
}`

const schemaURL = "notemirror://settings.schema.json"

var settingsSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		panic(fmt.Sprintf("config: schema resource: %v", err))
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		panic(fmt.Sprintf("config: schema compile: %v", err))
	}
	return schema
}

// Load reads, validates, and defaults the settings file. A missing
// file is an error; a file that fails schema validation is reported
// with the validator's detail so a bad edit is easy to locate.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse validates raw settings JSON and applies defaults.
func Parse(data []byte) (*Settings, error) {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("settings are not valid JSON: %w", err)
	}
	if err := settingsSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("settings failed validation: %w", err)
	}
	settings := &Settings{}
	if err := decodeSettings(instance, settings); err != nil {
		return nil, err
	}
	settings.applyDefaults()
	return settings, nil
}

func decodeSettings(instance any, settings *Settings) error {
	obj, ok := instance.(map[string]any)
	if !ok {
		return errors.New("settings must be a JSON object")
	}
	settings.Secret, _ = obj["secret"].(string)
	settings.VaultPath, _ = obj["vaultPath"].(string)
	settings.RootFolderPath, _ = obj["rootFolderPath"].(string)
	settings.AssetFolderPath, _ = obj["assetFolderPath"].(string)
	settings.StateDSN, _ = obj["stateDSN"].(string)
	settings.ListenAddr, _ = obj["listenAddr"].(string)
	settings.LogFile, _ = obj["logFile"].(string)
	settings.AutoDeleteMissingPages, _ = obj["autoDeleteMissingPages"].(bool)
	switch interval := obj["syncIntervalMinutes"].(type) {
	case json.Number:
		if value, err := interval.Int64(); err == nil {
			settings.SyncIntervalMinutes = int(value)
		}
	case float64:
		settings.SyncIntervalMinutes = int(interval)
	}
	if rawIDs, ok := obj["filteredIds"].([]any); ok {
		for _, raw := range rawIDs {
			if id, ok := raw.(string); ok && strings.TrimSpace(id) != "" {
				settings.FilteredIDs = append(settings.FilteredIDs, id)
			}
		}
	}
	return nil
}

func (s *Settings) applyDefaults() {
	if s.SyncIntervalMinutes <= 0 {
		s.SyncIntervalMinutes = 60
	}
	if strings.TrimSpace(s.VaultPath) == "" {
		s.VaultPath = "."
	}
	if strings.TrimSpace(s.AssetFolderPath) == "" {
		s.AssetFolderPath = "assets"
	}
	if strings.TrimSpace(s.StateDSN) == "" {
		s.StateDSN = "file://" + strings.TrimRight(s.VaultPath, "/") + "/.notemirror/state.json"
	}
	if strings.TrimSpace(s.ListenAddr) == "" {
		s.ListenAddr = "127.0.0.1:8478"
	}
}

// HasCredential reports whether a remote secret is configured. Sync is
// refused before any network call when it is not.
func (s *Settings) HasCredential() bool {
	return strings.TrimSpace(s.Secret) != ""
}
