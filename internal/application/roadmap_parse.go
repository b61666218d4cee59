package application

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bnema/whiteboard-tutor/internal/domain"
)

// stripCodeFence removes a surrounding ``` or ```json fence, which models add
// even when asked for bare JSON.
func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	trimmed = strings.TrimPrefix(trimmed, "```")
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		trimmed = ""
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

// ParseRoadmap decodes a generated roadmap. Units without titled sections are
// dropped; an empty result is a parse failure.
func ParseRoadmap(text string, hearing domain.HearingData) (domain.Roadmap, error) {
	var roadmap domain.Roadmap
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &roadmap); err != nil {
		return domain.Roadmap{}, fmt.Errorf("%w: %w", domain.ErrRoadmapParse, err)
	}

	units := make([]domain.Unit, 0, len(roadmap.Units))
	for _, unit := range roadmap.Units {
		sections := make([]domain.Section, 0, len(unit.Sections))
		for _, section := range unit.Sections {
			section.Title = strings.TrimSpace(section.Title)
			if section.Title == "" {
				continue
			}
			// A fresh roadmap never starts with progress.
			section.Status = domain.SectionPending
			sections = append(sections, section)
		}
		if len(sections) == 0 {
			continue
		}
		unit.Title = strings.TrimSpace(unit.Title)
		unit.Sections = sections
		units = append(units, unit)
	}
	if len(units) == 0 {
		return domain.Roadmap{}, fmt.Errorf("%w: no units with sections", domain.ErrRoadmapParse)
	}

	roadmap.Units = units
	if strings.TrimSpace(roadmap.Goal) == "" {
		roadmap.Goal = hearing.Goal
	}
	if strings.TrimSpace(roadmap.CurrentLevel) == "" {
		roadmap.CurrentLevel = hearing.Level
	}
	roadmap.Normalize()

	return roadmap, nil
}
