package schema

import (
	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
)

// Rule checks constraints spanning more than one field.
type Rule func(e models.Entity) []common.FieldError

// Schema describes one entity type beyond its struct tags.
type Schema struct {
	Type models.EntityType
	// AllowAdditional disables rejection of unknown top-level fields.
	AllowAdditional bool
	// Defaults returns a fresh document of default values.
	Defaults func() map[string]any
	Rules    []Rule
	// TextFields are scanned by cross-collection search.
	TextFields []string
	// UserOwned fields win over the server copy in a field-level merge.
	UserOwned []string
}

func defaultSchemas() map[models.EntityType]*Schema {
	return map[models.EntityType]*Schema{
		models.TypePlant: {
			Type: models.TypePlant,
			Defaults: func() map[string]any {
				return map[string]any{
					"type":   string(models.PlantOther),
					"status": string(models.StatusGrowing),
					"care":   map[string]any{},
				}
			},
			Rules:      []Rule{plantWateredAfterPlanting},
			TextFields: []string{"name", "species", "location", "notes", "tags"},
			UserOwned:  []string{"name", "notes", "status", "location", "care", "tags"},
		},
		models.TypeEvent: {
			Type: models.TypeEvent,
			Defaults: func() map[string]any {
				return map[string]any{
					"type":      string(models.EventOther),
					"completed": false,
				}
			},
			Rules:      []Rule{eventDateOrder},
			TextFields: []string{"title", "description"},
			UserOwned:  []string{"title", "description", "completed", "date", "time"},
		},
		models.TypePost: {
			Type: models.TypePost,
			Defaults: func() map[string]any {
				return map[string]any{
					"category": string(models.CategoryDiscussion),
					"status":   string(models.PostPublished),
					"author":   "anonymous",
					"likes":    0,
				}
			},
			TextFields: []string{"title", "content", "author", "tags"},
			UserOwned:  []string{"title", "content", "tags", "status"},
		},
		models.TypeSettings: {
			Type: models.TypeSettings,
			Defaults: func() map[string]any {
				return map[string]any{
					"language": "he",
					"theme":    "system",
					"units":    "metric",
					"notifications": map[string]any{
						"enabled":           true,
						"wateringReminders": true,
						"eventReminders":    true,
						"reminderTime":      "08:00",
					},
					"autoBackup": true,
				}
			},
			Rules:     []Rule{settingsSingleton},
			UserOwned: []string{"language", "theme", "units", "notifications", "location", "autoBackup"},
		},
	}
}

func plantWateredAfterPlanting(e models.Entity) []common.FieldError {
	p, ok := e.(*models.Plant)
	if !ok || p.PlantedAt == nil || p.Care.LastWatered == nil {
		return nil
	}
	if p.Care.LastWatered.Before(*p.PlantedAt) {
		return []common.FieldError{{Field: "care.lastWatered", Rule: "after", Message: "must not be before plantedAt"}}
	}
	return nil
}

func eventDateOrder(e models.Entity) []common.FieldError {
	ev, ok := e.(*models.CalendarEvent)
	if !ok {
		return nil
	}
	var errs []common.FieldError
	if ev.EndDate != nil && ev.EndDate.Before(ev.Date) {
		errs = append(errs, common.FieldError{Field: "endDate", Rule: "after", Message: "must not be before date"})
	}
	if ev.Recurrence != nil && ev.Recurrence.Until != nil && ev.Recurrence.Until.Before(ev.Date) {
		errs = append(errs, common.FieldError{Field: "recurrence.until", Rule: "after", Message: "must not be before date"})
	}
	return errs
}

func settingsSingleton(e models.Entity) []common.FieldError {
	if e.GetBase().ID != models.SettingsID {
		return []common.FieldError{{Field: "id", Rule: "singleton", Message: "must be " + models.SettingsID}}
	}
	return nil
}
