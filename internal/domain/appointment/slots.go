package appointment

import (
	"fmt"
	"strconv"
	"strings"
)

// Window describes the daily service hours slots are cut from.
type Window struct {
	StartHour   int  `json:"start_hour"`
	EndHour     int  `json:"end_hour"`
	SlotMinutes int  `json:"slot_minutes"`
	BreakHour   *int `json:"break_hour,omitempty"`
}

// DefaultWindow is 10:00-20:00 in 30 minute slots with the 13:00 hour off.
func DefaultWindow() Window {
	brk := 13
	return Window{StartHour: 10, EndHour: 20, SlotMinutes: 30, BreakHour: &brk}
}

// Validate reports why a window cannot produce slots.
func (w Window) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 {
		return fmt.Errorf("start hour %d out of range 0-23", w.StartHour)
	}
	if w.EndHour < 1 || w.EndHour > 24 {
		return fmt.Errorf("end hour %d out of range 1-24", w.EndHour)
	}
	if w.EndHour <= w.StartHour {
		return fmt.Errorf("end hour %d must be after start hour %d", w.EndHour, w.StartHour)
	}
	if w.SlotMinutes <= 0 {
		return fmt.Errorf("slot length must be positive, got %d minutes", w.SlotMinutes)
	}
	if w.BreakHour != nil && (*w.BreakHour < 0 || *w.BreakHour > 23) {
		return fmt.Errorf("break hour %d out of range 0-23", *w.BreakHour)
	}
	return nil
}

// GenerateSlots returns the canonical ordered slot labels for one day.
// Slots never end after EndHour and never overlap the break hour; when a slot
// would run into the break, generation resumes at the end of the break.
func GenerateSlots(w Window) []string {
	if w.Validate() != nil {
		return []string{}
	}

	start := w.StartHour * 60
	end := w.EndHour * 60
	brkStart, brkEnd := -1, -1
	if w.BreakHour != nil {
		brkStart = *w.BreakHour * 60
		brkEnd = brkStart + 60
	}

	slots := make([]string, 0, (end-start)/w.SlotMinutes)
	for cur := start; cur+w.SlotMinutes <= end; {
		next := cur + w.SlotMinutes
		if brkStart >= 0 && cur < brkEnd && next > brkStart {
			cur = brkEnd
			continue
		}
		slots = append(slots, formatClock(cur)+"-"+formatClock(next))
		cur = next
	}
	return slots
}

// IsCanonical reports whether label is one of the window's generated slots.
func IsCanonical(w Window, label string) bool {
	for _, s := range GenerateSlots(w) {
		if s == label {
			return true
		}
	}
	return false
}

// ParseSlot splits a HH:MM-HH:MM label into minutes since midnight.
func ParseSlot(label string) (start, end int, err error) {
	parts := strings.Split(label, "-")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("slot %q is not of the form HH:MM-HH:MM", label)
	}
	if start, err = parseClock(parts[0]); err != nil {
		return 0, 0, err
	}
	if end, err = parseClock(parts[1]); err != nil {
		return 0, 0, err
	}
	if end <= start {
		return 0, 0, fmt.Errorf("slot %q ends before it starts", label)
	}
	return start, end, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func parseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("time %q is not of the form HH:MM", s)
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h == 24 && m != 0 {
		return 0, fmt.Errorf("time %q is past midnight", s)
	}
	return h*60 + m, nil
}
