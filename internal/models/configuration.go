package models

import (
	"strconv"
	"time"
)

// ConfigurationType tells how a stored setting value is parsed.
type ConfigurationType string

const (
	ConfigurationTypeInteger ConfigurationType = "INTEGER"
	ConfigurationTypeBoolean ConfigurationType = "BOOLEAN"
)

// Configuration is one persisted registration setting row.
type Configuration struct {
	Key         string            `db:"key" json:"key"`
	Value       string            `db:"value" json:"value"`
	Type        ConfigurationType `db:"type" json:"type"`
	Description *string           `db:"description" json:"description,omitempty"`
	UpdatedBy   *string           `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
}

// SettingValues holds effective raw values keyed by setting key.
type SettingValues map[string]string

// Settings parses the values into a snapshot. Unparseable integers read as
// zero and booleans are true only for "true".
func (v SettingValues) Settings() RegistrationSettings {
	maxCredits, _ := strconv.Atoi(v[SettingMaxCreditsPerTerm])
	maxWaitlist, _ := strconv.Atoi(v[SettingMaxWaitlistEntriesPerStudent])
	return RegistrationSettings{
		MaxCreditsPerTerm:            maxCredits,
		MaxWaitlistEntriesPerStudent: maxWaitlist,
		WaitlistEnabled:              v[SettingWaitlistEnabled] == "true",
		AddDropEnabled:               v[SettingAddDropEnabled] == "true",
	}
}
