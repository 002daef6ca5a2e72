package schema

import (
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
)

// LegacySchemaVersion is assumed for documents stored without a version.
const LegacySchemaVersion = "1.0"

// Transform rewrites a stored document from one schema version to the next.
type Transform func(doc map[string]any) error

// Migration is one edge in the migration table.
type Migration struct {
	To        string
	Transform Transform
}

type migrationKey struct {
	t    models.EntityType
	from string
}

func defaultMigrations() map[migrationKey]Migration {
	return map[migrationKey]Migration{
		{models.TypePlant, "1.0"}:    {To: "1.1", Transform: plantWateringIntoCare},
		{models.TypeEvent, "1.0"}:    {To: "1.1", Transform: eventTrimSeconds},
		{models.TypePost, "1.0"}:     {To: "1.1", Transform: postRenameLikes},
		{models.TypeSettings, "1.0"}: {To: "1.1", Transform: settingsLanguageCode},
	}
}

// Migrate walks doc forward to CurrentSchemaVersion. It reports whether
// anything changed.
func (r *Registry) Migrate(t models.EntityType, doc map[string]any) (bool, error) {
	version, _ := doc["schemaVersion"].(string)
	if version == "" {
		version = LegacySchemaVersion
	}

	migrated := false
	for steps := 0; version != models.CurrentSchemaVersion; steps++ {
		m, ok := r.migrations[migrationKey{t, version}]
		if !ok || steps > len(r.migrations) {
			return migrated, fmt.Errorf("no migration for %s from schema %s", t, version)
		}
		if err := m.Transform(doc); err != nil {
			return migrated, fmt.Errorf("migrate %s %s->%s: %w", t, version, m.To, err)
		}
		version = m.To
		doc["schemaVersion"] = version
		migrated = true
	}
	return migrated, nil
}

func plantWateringIntoCare(doc map[string]any) error {
	freq, ok := doc["wateringFrequency"]
	if !ok {
		return nil
	}
	delete(doc, "wateringFrequency")

	care, _ := doc["care"].(map[string]any)
	if care == nil {
		care = map[string]any{}
	}
	if _, set := care["wateringIntervalDays"]; !set {
		if n, ok := freq.(float64); ok && n >= 1 {
			care["wateringIntervalDays"] = int(n)
		}
	}
	doc["care"] = care
	return nil
}

func eventTrimSeconds(doc map[string]any) error {
	if s, ok := doc["time"].(string); ok && strings.Count(s, ":") == 2 {
		doc["time"] = s[:strings.LastIndex(s, ":")]
	}
	return nil
}

func postRenameLikes(doc map[string]any) error {
	if v, ok := doc["likesCount"]; ok {
		delete(doc, "likesCount")
		if _, set := doc["likes"]; !set {
			doc["likes"] = v
		}
	}
	return nil
}

func settingsLanguageCode(doc map[string]any) error {
	if doc["language"] == "iw" {
		doc["language"] = "he"
	}
	return nil
}
