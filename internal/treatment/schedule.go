// Package treatment loads the care recipient's treatment schedules: which
// pet gets what, at which times of day, on which days.
package treatment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dosebot/internal/config"
)

const dateLayout = "2006-01-02"

// File is the on-disk schedules document (JSON or YAML).
type File struct {
	Schedules []Schedule `json:"schedules"`
}

// Schedule is one recurring treatment for one pet.
//
// Times are "HH:mm" slots. They are not validated here: a malformed slot is
// skipped (and reported) when reminders are planned, without dropping the
// rest of the schedule.
type Schedule struct {
	ID        string   `json:"id"`
	PetID     string   `json:"pet_id"`
	PetName   string   `json:"pet_name,omitempty"`
	Title     string   `json:"title"`
	Notes     string   `json:"notes,omitempty"`
	Times     []string `json:"times"`
	Days      []string `json:"days,omitempty"`       // mon..sun; empty = every day
	StartDate string   `json:"start_date,omitempty"` // YYYY-MM-DD, inclusive
	EndDate   string   `json:"end_date,omitempty"`   // YYYY-MM-DD, inclusive
	Active    *bool    `json:"active,omitempty"`     // default true
	Followup  *bool    `json:"followup,omitempty"`   // nil = global setting
}

func (s Schedule) IsActive() bool { return s.Active == nil || *s.Active }

// FollowupEnabled resolves the per-schedule override against the global flag.
func (s Schedule) FollowupEnabled(global bool) bool {
	if s.Followup != nil {
		return *s.Followup
	}
	return global
}

// DisplayName is the pet name, or the pet id when no name is set.
func (s Schedule) DisplayName() string {
	if n := strings.TrimSpace(s.PetName); n != "" {
		return n
	}
	return s.PetID
}

// Slots returns Times with duplicates removed, in file order.
func (s Schedule) Slots() []string {
	seen := make(map[string]struct{}, len(s.Times))
	out := make([]string, 0, len(s.Times))
	for _, t := range s.Times {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ActiveOn reports whether the schedule applies on day's calendar date (in
// day's location). Malformed days or dates make it inactive; Validate rejects
// them at load time.
func (s Schedule) ActiveOn(day time.Time) bool {
	if !s.IsActive() {
		return false
	}
	date := day.Format(dateLayout)
	if s.StartDate != "" && date < s.StartDate {
		return false
	}
	if s.EndDate != "" && date > s.EndDate {
		return false
	}
	if len(s.Days) == 0 {
		return true
	}
	for _, d := range s.Days {
		wd, err := config.ParseWeekday(d)
		if err == nil && wd == day.Weekday() {
			return true
		}
	}
	return false
}

// Validate checks one schedule in isolation.
func (s Schedule) Validate() error {
	var errs []error
	if strings.TrimSpace(s.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(s.PetID) == "" {
		errs = append(errs, errors.New("pet_id is required"))
	}
	if len(s.Times) == 0 {
		errs = append(errs, errors.New("times must not be empty"))
	}
	for _, d := range s.Days {
		if _, err := config.ParseWeekday(d); err != nil {
			errs = append(errs, fmt.Errorf("days: %w", err))
		}
	}
	var start, end time.Time
	if s.StartDate != "" {
		t, err := time.Parse(dateLayout, s.StartDate)
		if err != nil {
			errs = append(errs, fmt.Errorf("start_date %q: want YYYY-MM-DD", s.StartDate))
		}
		start = t
	}
	if s.EndDate != "" {
		t, err := time.Parse(dateLayout, s.EndDate)
		if err != nil {
			errs = append(errs, fmt.Errorf("end_date %q: want YYYY-MM-DD", s.EndDate))
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		errs = append(errs, errors.New("end_date is before start_date"))
	}
	return errors.Join(errs...)
}

// Validate checks every schedule and id uniqueness. All problems are
// reported together.
func Validate(list []Schedule) error {
	var errs []error
	seen := make(map[string]int, len(list))
	for i, s := range list {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("schedules[%d] (%s): %w", i, s.ID, err))
		}
		if s.ID == "" {
			continue
		}
		if j, dup := seen[s.ID]; dup {
			errs = append(errs, fmt.Errorf("schedules[%d]: duplicate id %q (first at [%d])", i, s.ID, j))
			continue
		}
		seen[s.ID] = i
	}
	return errors.Join(errs...)
}

// Load decodes and validates a schedules file.
func Load(path string) ([]Schedule, error) {
	var f File
	if err := config.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("schedules %s: %w", path, err)
	}
	if err := Validate(f.Schedules); err != nil {
		return nil, fmt.Errorf("schedules %s: %w", path, err)
	}
	return f.Schedules, nil
}

// Clone deep-copies list so callers cannot mutate shared state.
func Clone(list []Schedule) []Schedule {
	out := make([]Schedule, len(list))
	for i, s := range list {
		s.Times = append([]string(nil), s.Times...)
		s.Days = append([]string(nil), s.Days...)
		if s.Active != nil {
			v := *s.Active
			s.Active = &v
		}
		if s.Followup != nil {
			v := *s.Followup
			s.Followup = &v
		}
		out[i] = s
	}
	return out
}

func fingerprint(list []Schedule) []byte {
	b, _ := json.Marshal(list)
	return b
}
