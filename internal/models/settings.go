package models

import "errors"

// Notification schedule bounds
const (
	MinNotificationHour = 0
	MaxNotificationHour = 23
	MaxPromptsPerDay    = 24
)

// Notification settings validation errors
var (
	ErrInvalidPromptCount = errors.New("prompts per day must be between 1 and 24")
	ErrInvalidHourRange   = errors.New("start hour must be before end hour, both within 0-23")
)

// NotificationSettings is the phone-owned prompt schedule: how many check-in
// prompts per day, delivered between start and end hour. The watch treats it
// as a read-only cache.
type NotificationSettings struct {
	PerDay    int `json:"per_day"`
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// DefaultNotificationSettings is what the watch falls back to when no cached
// settings exist.
func DefaultNotificationSettings() NotificationSettings {
	return NotificationSettings{PerDay: 3, StartHour: 9, EndHour: 22}
}

// Validate checks the schedule bounds.
func (s NotificationSettings) Validate() error {
	if s.PerDay < 1 || s.PerDay > MaxPromptsPerDay {
		return ErrInvalidPromptCount
	}
	if s.StartHour < MinNotificationHour || s.EndHour > MaxNotificationHour || s.StartHour >= s.EndHour {
		return ErrInvalidHourRange
	}
	return nil
}
