package catalog

import (
	"strings"

	"github.com/zhouzirui/gpt-bridge/backend/internal/model/chat"
)

// Seed builds the catalog from configured model ids. The active model is always
// present and marked selected, even when it is missing from extra.
func Seed(active string, extra []string) []chat.Model {
	active = strings.TrimSpace(active)
	seen := make(map[string]bool, len(extra)+1)
	models := make([]chat.Model, 0, len(extra)+1)

	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		models = append(models, chat.Model{
			ID:       id,
			Name:     id,
			Selected: id == active,
		})
	}

	add(active)
	for _, id := range extra {
		add(id)
	}
	return models
}
