package domain

// Position addresses one section of a roadmap.
type Position struct {
	Unit    int `json:"unitIndex"`
	Section int `json:"sectionIndex"`
}

// FirstPosition returns the first addressable section, skipping empty units.
func (r Roadmap) FirstPosition() (Position, bool) {
	for u, unit := range r.Units {
		if len(unit.Sections) > 0 {
			return Position{Unit: u, Section: 0}, true
		}
	}
	return Position{}, false
}

// Advance returns the section after p, rolling into the next non-empty unit
// once the current unit is exhausted. ok is false when there is no next section.
func (r Roadmap) Advance(p Position) (next Position, ok bool) {
	if p.Unit < 0 || p.Unit >= len(r.Units) {
		return Position{}, false
	}

	if p.Section+1 < len(r.Units[p.Unit].Sections) {
		return Position{Unit: p.Unit, Section: p.Section + 1}, true
	}

	for u := p.Unit + 1; u < len(r.Units); u++ {
		if len(r.Units[u].Sections) > 0 {
			return Position{Unit: u, Section: 0}, true
		}
	}

	return Position{}, false
}

// Rewind is the mirror of Advance: it borrows the last section of the previous
// non-empty unit and stays put at the very first section.
func (r Roadmap) Rewind(p Position) Position {
	if !r.Contains(p) {
		return p
	}

	if p.Section > 0 {
		return Position{Unit: p.Unit, Section: p.Section - 1}
	}

	for u := p.Unit - 1; u >= 0; u-- {
		if n := len(r.Units[u].Sections); n > 0 {
			return Position{Unit: u, Section: n - 1}
		}
	}

	return p
}
