package models

type NotificationSettings struct {
	Enabled           bool   `json:"enabled"`
	WateringReminders bool   `json:"wateringReminders"`
	EventReminders    bool   `json:"eventReminders"`
	ReminderTime      string `json:"reminderTime,omitempty" validate:"omitempty,pattern=time"`
}

type GeoLocation struct {
	City      string  `json:"city,omitempty" validate:"max=100"`
	Latitude  float64 `json:"latitude" validate:"min=-90,max=90"`
	Longitude float64 `json:"longitude" validate:"min=-180,max=180"`
}

// Settings is the application-wide preferences singleton (id SettingsID).
type Settings struct {
	Base
	Language      string               `json:"language" validate:"required,oneof=he en"`
	Theme         string               `json:"theme" validate:"required,oneof=light dark system"`
	Units         string               `json:"units" validate:"required,oneof=metric imperial"`
	Notifications NotificationSettings `json:"notifications"`
	Location      *GeoLocation         `json:"location,omitempty"`
	AutoBackup    bool                 `json:"autoBackup"`
}

func (*Settings) EntityType() EntityType { return TypeSettings }
