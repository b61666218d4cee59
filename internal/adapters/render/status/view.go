package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/whiteboard-tutor/internal/application"
	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const barWidth = 24

type RenderOptions struct {
	Now time.Time
}

func renderRoom(status application.RoomStatus, opts RenderOptions, s styles) string {
	title := string(status.Room.ID)
	if name := strings.TrimSpace(status.Room.Title); name != "" {
		title = fmt.Sprintf("%s (%s)", name, status.Room.ID)
	}

	lines := []string{
		s.title.Render("Room " + title),
		s.header.Render(fmt.Sprintf("owner: %s  phase: %s  board nodes: %d", status.Room.OwnerID, status.Session.Phase, status.Nodes)),
	}
	if !status.Session.UpdatedAt.IsZero() {
		lines = append(lines, s.header.Render("updated "+formatAgo(status.Session.UpdatedAt, opts.Now)))
	}

	roadmap := status.Session.Roadmap
	if roadmap == nil || len(roadmap.Units) == 0 {
		lines = append(lines, s.empty.Render("No roadmap yet."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	finished, total := progress(*roadmap)
	percent := 0.0
	if total > 0 {
		percent = 100 * float64(finished) / float64(total)
	}
	lines = append(lines,
		s.section.Render(s.label.Render("goal: ")+s.detail.Render(roadmap.Goal)),
		lipgloss.JoinHorizontal(lipgloss.Top,
			s.label.Render("progress:"), " ",
			renderProgressBar(percent, barWidth, s), " ",
			lipgloss.NewStyle().Foreground(interpolateColor(percent, 0, 100)).Render(fmt.Sprintf("%d/%d sections", finished, total)),
		),
	)

	current := status.Session.Position()
	learning := status.Session.Phase == domain.PhaseLearning
	for u, unit := range roadmap.Units {
		parts := []string{s.unit.Render(fmt.Sprintf("%d. %s", u+1, unit.Title))}
		for i, section := range unit.Sections {
			here := learning && current == domain.Position{Unit: u, Section: i}
			parts = append(parts, sectionLine(section, here, s))
		}
		lines = append(lines, s.section.Render(lipgloss.JoinVertical(lipgloss.Left, parts...)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sectionLine(section domain.Section, current bool, s styles) string {
	line := fmt.Sprintf("  %s %s", statusMarker(section.Status), section.Title)
	switch {
	case current:
		line = s.current.Render(line + "  <")
	case section.Status == domain.SectionCompleted:
		line = s.done.Render(line)
	case section.Status == domain.SectionSkipped || section.Importance == domain.ImportanceSkip:
		line = s.skipped.Render(line)
	default:
		line = s.detail.Render(line)
	}

	if section.Importance != "" && section.Importance != domain.ImportanceNormal {
		line += " " + s.focus.Render("["+string(section.Importance)+"]")
	}
	return line
}

func statusMarker(status domain.SectionStatus) string {
	switch status {
	case domain.SectionCompleted:
		return "[x]"
	case domain.SectionInProgress:
		return "[>]"
	case domain.SectionSkipped:
		return "[-]"
	default:
		return "[ ]"
	}
}

// progress counts sections that are done with, completed or skipped.
func progress(roadmap domain.Roadmap) (finished, total int) {
	for _, unit := range roadmap.Units {
		for _, section := range unit.Sections {
			total++
			if section.Status == domain.SectionCompleted || section.Status == domain.SectionSkipped {
				finished++
			}
		}
	}
	return finished, total
}

func renderQuota(status application.QuotaStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Token quota for " + string(status.UserID)),
		s.header.Render(fmt.Sprintf("plan: %s", status.Plan)),
	}

	if status.Unlimited {
		lines = append(lines, s.detail.Render(fmt.Sprintf("usage: %s tokens this month (unlimited)", domain.CompactTokens(status.TokenUsage))))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	usedPercent := 100.0
	if status.MonthlyLimit > 0 {
		usedPercent = 100 * float64(status.TokenUsage) / float64(status.MonthlyLimit)
	}
	leftPercent := clampPercent(100 - usedPercent)
	meta := lipgloss.NewStyle().Foreground(interpolateColor(leftPercent, 0, 100)).
		Render(fmt.Sprintf("%d of %d tokens left", status.Remaining, status.MonthlyLimit))

	line := lipgloss.JoinHorizontal(lipgloss.Top,
		s.label.Render("monthly:"), " ",
		renderProgressBar(usedPercent, barWidth, s), " ",
		meta,
	)
	if status.Remaining == 0 {
		line += " " + s.warning.Render("[exhausted]")
	}
	lines = append(lines, line, s.detail.Render(fmt.Sprintf("used %s tokens this month", domain.CompactTokens(status.TokenUsage))))

	if reset := nextReset(opts.Now); !reset.IsZero() {
		lines = append(lines, s.header.Render(formatResetRelative(reset, opts.Now)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// nextReset is the first instant of the month after now, in UTC.
func nextReset(now time.Time) time.Time {
	if now.IsZero() {
		return time.Time{}
	}
	year, month, _ := now.UTC().Date()
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	filled := int(math.Round(float64(width) * used / 100.0))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatResetRelative(resetsAt, now time.Time) string {
	if now.IsZero() {
		return "resets " + resetsAt.Format(time.RFC3339)
	}
	if !resetsAt.After(now) {
		return "resets now"
	}

	days := int(math.Ceil(resetsAt.Sub(now).Hours() / 24))
	if days < 1 {
		days = 1
	}
	suffix := "days"
	if days == 1 {
		suffix = "day"
	}
	return fmt.Sprintf("resets in %d %s (%s)", days, suffix, resetsAt.Format("02 Jan"))
}

func formatAgo(at, now time.Time) string {
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}
	elapsed := now.Sub(at)
	switch {
	case elapsed < time.Minute:
		return "just now"
	case elapsed < time.Hour:
		return fmt.Sprintf("%d min ago", int(elapsed.Minutes()))
	case elapsed < 24*time.Hour:
		return fmt.Sprintf("%d h ago", int(elapsed.Hours()))
	default:
		return at.Format("02 Jan 15:04")
	}
}

// interpolateColor maps value onto the 240..255 greyscale ramp.
func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	code := int(240.0 + 15.0*normalized)
	return lipgloss.Color(fmt.Sprintf("%d", code))
}
