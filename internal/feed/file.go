// Package feed loads the schedule event list from a JSON file and from ICS
// subscriptions, and keeps the latest successfully loaded feed in memory.
package feed

import (
	"encoding/json"
	"fmt"
	"os"

	"schedexport/internal/model"
)

// LoadFile reads a JSON feed: {"periodo": "...", "eventos": [...]}. A bare
// array of events is accepted too.
func LoadFile(path string) (model.Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Feed{}, fmt.Errorf("feed: read %s: %w", path, err)
	}
	return Decode(data)
}

// Decode parses a JSON feed document.
func Decode(data []byte) (model.Feed, error) {
	var f model.Feed
	if err := json.Unmarshal(data, &f); err == nil {
		return f, nil
	}
	var events []model.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return model.Feed{}, fmt.Errorf("feed: decode: %w", err)
	}
	return model.Feed{Events: events}, nil
}
