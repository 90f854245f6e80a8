package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/taskforge/internal/agents"
)

// loadRequirements reads a requirements document from a JSON or YAML file.
// Both use the JSON field names (userStory, functionalRequirements, ...).
// The document is treated as final.
func loadRequirements(path string) (agents.RequirementsDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agents.RequirementsDoc{}, fmt.Errorf("reading requirements: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return agents.RequirementsDoc{}, fmt.Errorf("parsing %s: %w", path, err)
		}
		if data, err = json.Marshal(raw); err != nil {
			return agents.RequirementsDoc{}, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	var doc agents.RequirementsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return agents.RequirementsDoc{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	if strings.TrimSpace(doc.UserStory) == "" &&
		len(doc.SystemRequirements)+len(doc.FunctionalRequirements)+len(doc.NonFunctionalRequirements) == 0 {
		return agents.RequirementsDoc{}, fmt.Errorf("%s: requirements document is empty", path)
	}
	doc.IsComplete = true
	return doc, nil
}
