package models

import "time"

type EventType string

const (
	EventWatering    EventType = "watering"
	EventFertilizing EventType = "fertilizing"
	EventPlanting    EventType = "planting"
	EventHarvesting  EventType = "harvesting"
	EventPruning     EventType = "pruning"
	EventPestControl EventType = "pest_control"
	EventOther       EventType = "other"
)

// Recurrence repeats an event every Interval units of Frequency.
type Recurrence struct {
	Frequency string     `json:"frequency" validate:"required,oneof=daily weekly monthly yearly"`
	Interval  int        `json:"interval" validate:"min=1,max=365"`
	Until     *time.Time `json:"until,omitempty"`
}

type CalendarEvent struct {
	Base
	Title       string      `json:"title" validate:"required,min=1,max=200"`
	Description string      `json:"description,omitempty" validate:"max=1000"`
	Type        EventType   `json:"type" validate:"required,oneof=watering fertilizing planting harvesting pruning pest_control other"`
	Date        time.Time   `json:"date" validate:"required"`
	EndDate     *time.Time  `json:"endDate,omitempty"`
	Time        string      `json:"time,omitempty" validate:"omitempty,pattern=time"`
	PlantID     string      `json:"plantId,omitempty" validate:"omitempty,pattern=plant_id"`
	Completed   bool        `json:"completed"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
}

func (*CalendarEvent) EntityType() EntityType { return TypeEvent }
