package models

// RegistrationSettings is the snapshot consulted by every registration mutation.
// It is passed by value so a mid-term change applies to the next operation only.
type RegistrationSettings struct {
	MaxCreditsPerTerm            int  `json:"max_credits_per_term"`
	MaxWaitlistEntriesPerStudent int  `json:"max_waitlist_entries_per_student"`
	WaitlistEnabled              bool `json:"waitlist_enabled"`
	AddDropEnabled               bool `json:"add_drop_enabled"`
}

// Configuration keys backing RegistrationSettings.
const (
	SettingMaxCreditsPerTerm            = "max_credits_per_term"
	SettingMaxWaitlistEntriesPerStudent = "max_waitlist_entries_per_student"
	SettingWaitlistEnabled              = "waitlist_enabled"
	SettingAddDropEnabled               = "add_drop_enabled"
)
