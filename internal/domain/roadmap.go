package domain

import (
	"fmt"
	"strings"
)

type SectionStatus string

const (
	SectionPending    SectionStatus = "pending"
	SectionInProgress SectionStatus = "in_progress"
	SectionCompleted  SectionStatus = "completed"
	SectionSkipped    SectionStatus = "skipped"
)

func (s SectionStatus) Valid() bool {
	switch s {
	case SectionPending, SectionInProgress, SectionCompleted, SectionSkipped:
		return true
	default:
		return false
	}
}

type Importance string

const (
	ImportanceNormal Importance = "normal"
	ImportanceFocus  Importance = "focus"
	ImportanceSkip   Importance = "skip"
)

// Next cycles normal -> focus -> skip -> normal. Unknown values restart at focus.
func (i Importance) Next() Importance {
	switch i {
	case ImportanceNormal:
		return ImportanceFocus
	case ImportanceFocus:
		return ImportanceSkip
	case ImportanceSkip:
		return ImportanceNormal
	default:
		return ImportanceFocus
	}
}

func (i Importance) Valid() bool {
	switch i {
	case ImportanceNormal, ImportanceFocus, ImportanceSkip:
		return true
	default:
		return false
	}
}

// Generation contract for roadmap shape. Not enforced structurally.
const (
	MinUnits           = 2
	MaxUnits           = 5
	MinSectionsPerUnit = 2
	MaxSectionsPerUnit = 4
)

type Section struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Status     SectionStatus `json:"status"`
	Importance Importance    `json:"importance"`
}

type Unit struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

type Roadmap struct {
	Goal         string `json:"goal"`
	CurrentLevel string `json:"currentLevel"`
	Units        []Unit `json:"units"`
}

func (r Roadmap) Clone() Roadmap {
	out := r
	out.Units = make([]Unit, len(r.Units))
	for i, unit := range r.Units {
		unit.Sections = append([]Section(nil), unit.Sections...)
		out.Units[i] = unit
	}
	return out
}

func (r Roadmap) SectionCount() int {
	total := 0
	for _, unit := range r.Units {
		total += len(unit.Sections)
	}
	return total
}

func (r Roadmap) Contains(p Position) bool {
	if p.Unit < 0 || p.Unit >= len(r.Units) {
		return false
	}
	return p.Section >= 0 && p.Section < len(r.Units[p.Unit].Sections)
}

// Section returns a pointer into the roadmap so callers can change status in place.
func (r *Roadmap) Section(p Position) (*Section, error) {
	if !r.Contains(p) {
		return nil, fmt.Errorf("%w: unit %d section %d", ErrIndexOutOfRange, p.Unit, p.Section)
	}
	return &r.Units[p.Unit].Sections[p.Section], nil
}

// ToggleImportance returns a copy of r with the section's importance cycled.
// Status is left untouched.
func (r Roadmap) ToggleImportance(p Position) (Roadmap, error) {
	if !r.Contains(p) {
		return Roadmap{}, fmt.Errorf("%w: unit %d section %d", ErrIndexOutOfRange, p.Unit, p.Section)
	}

	out := r.Clone()
	section := &out.Units[p.Unit].Sections[p.Section]
	section.Importance = section.Importance.Next()
	return out, nil
}

// Normalize fills ids, statuses and importances the generator left out.
func (r *Roadmap) Normalize() {
	for i := range r.Units {
		unit := &r.Units[i]
		if strings.TrimSpace(unit.ID) == "" {
			unit.ID = fmt.Sprintf("unit-%d", i+1)
		}
		for j := range unit.Sections {
			section := &unit.Sections[j]
			if strings.TrimSpace(section.ID) == "" {
				section.ID = fmt.Sprintf("%s-section-%d", unit.ID, j+1)
			}
			if !section.Status.Valid() {
				section.Status = SectionPending
			}
			if !section.Importance.Valid() {
				section.Importance = ImportanceNormal
			}
		}
	}
}

// ResetProgress puts every section back to pending. Importance is kept.
func (r *Roadmap) ResetProgress() {
	for i := range r.Units {
		for j := range r.Units[i].Sections {
			r.Units[i].Sections[j].Status = SectionPending
		}
	}
}

// InProgressCount reports how many sections are currently in progress.
func (r Roadmap) InProgressCount() int {
	count := 0
	for _, unit := range r.Units {
		for _, section := range unit.Sections {
			if section.Status == SectionInProgress {
				count++
			}
		}
	}
	return count
}

// FallbackRoadmap builds the deterministic two-unit template used when the
// generator's roadmap cannot be parsed.
func FallbackRoadmap(goal, level string) Roadmap {
	subject := strings.TrimSpace(goal)
	if subject == "" {
		subject = "your goal"
	}

	roadmap := Roadmap{
		Goal:         goal,
		CurrentLevel: level,
		Units: []Unit{
			{
				ID:    "unit-1",
				Title: fmt.Sprintf("Foundations of %s", subject),
				Sections: []Section{
					{Title: fmt.Sprintf("Overview of %s", subject)},
					{Title: fmt.Sprintf("Core concepts of %s", subject)},
				},
			},
			{
				ID:    "unit-2",
				Title: fmt.Sprintf("Applying %s", subject),
				Sections: []Section{
					{Title: fmt.Sprintf("Worked examples in %s", subject)},
					{Title: fmt.Sprintf("Practice problems in %s", subject)},
				},
			},
		},
	}
	roadmap.Normalize()
	return roadmap
}
