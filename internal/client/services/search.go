package services

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/query"
)

type SearchOptions struct {
	// Types limits the search to some record kinds; empty means all.
	Types []models.EntityType
	// Limit caps the number of hits; zero means no cap.
	Limit int
}

// SearchHit is one matching record. Hits are grouped by type and sorted
// by most recent update within a type.
type SearchHit struct {
	Type   models.EntityType `json:"type"`
	ID     string            `json:"id"`
	Record query.Doc         `json:"record"`
}

// Search scans the text fields configured for each record type for q,
// case-insensitively.
func (m *DataManager) Search(ctx context.Context, q string, opts SearchOptions) ([]SearchHit, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}

	types := opts.Types
	if len(types) == 0 {
		types = models.EntityTypes
	}

	var hits []SearchHit
	for _, t := range types {
		s, ok := m.registry.Schema(t)
		if !ok || len(s.TextFields) == 0 {
			continue
		}

		res, err := m.Query(ctx, t, query.Query{
			Search:       q,
			SearchFields: s.TextFields,
			Sort:         []query.SortKey{{Field: "updatedAt", Desc: true}},
		})
		if err != nil {
			return nil, err
		}

		for _, d := range res.Data {
			id, _ := d["id"].(string)
			hits = append(hits, SearchHit{Type: t, ID: id, Record: d})
			if opts.Limit > 0 && len(hits) == opts.Limit {
				return hits, nil
			}
		}
	}
	return hits, nil
}

type PlantStats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	ByType     map[string]int `json:"byType"`
	ByLocation map[string]int `json:"byLocation"`
}

type EventStats struct {
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Upcoming  int            `json:"upcoming"`
	Overdue   int            `json:"overdue"`
	ByType    map[string]int `json:"byType"`
}

type PostStats struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"byCategory"`
	ByStatus   map[string]int `json:"byStatus"`
	TotalLikes int            `json:"totalLikes"`
}

// Analytics holds counts and groupings over the local collections.
type Analytics struct {
	Plants      PlantStats `json:"plants"`
	Events      EventStats `json:"events"`
	Posts       PostStats  `json:"posts"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

func (m *DataManager) GetAnalytics(ctx context.Context) (*Analytics, error) {
	now := m.now().UTC()
	a := &Analytics{GeneratedAt: now}

	plants, err := m.Query(ctx, models.TypePlant, query.Query{
		Limit:  1,
		Facets: []string{"status", "type", "location"},
	})
	if err != nil {
		return nil, err
	}
	a.Plants = PlantStats{
		Total:      plants.TotalCount,
		ByStatus:   plants.Facets["status"],
		ByType:     plants.Facets["type"],
		ByLocation: plants.Facets["location"],
	}

	events, err := m.Query(ctx, models.TypeEvent, query.Query{
		Limit:  1,
		Facets: []string{"type", "completed"},
	})
	if err != nil {
		return nil, err
	}
	a.Events = EventStats{
		Total:     events.TotalCount,
		Completed: events.Facets["completed"]["true"],
		ByType:    events.Facets["type"],
	}

	open := map[string]any{"completed": false}
	if a.Events.Upcoming, err = m.count(ctx, models.TypeEvent, open, "date", "$gte", now); err != nil {
		return nil, err
	}
	if a.Events.Overdue, err = m.count(ctx, models.TypeEvent, open, "date", "$lt", now); err != nil {
		return nil, err
	}

	posts, err := m.Query(ctx, models.TypePost, query.Query{
		Limit:     1,
		Facets:    []string{"category", "status"},
		Aggregate: map[string]query.Aggregation{"likes": {Op: query.AggSum, Field: "likes"}},
	})
	if err != nil {
		return nil, err
	}
	likes, _ := posts.Aggregations["likes"].(float64)
	a.Posts = PostStats{
		Total:      posts.TotalCount,
		ByCategory: posts.Facets["category"],
		ByStatus:   posts.Facets["status"],
		TotalLikes: int(likes),
	}

	return a, nil
}

func (m *DataManager) count(ctx context.Context, t models.EntityType, base map[string]any, field, op string, v any) (int, error) {
	filter := make(map[string]any, len(base)+1)
	for k, val := range base {
		filter[k] = val
	}
	filter[field] = map[string]any{op: v}

	res, err := m.Query(ctx, t, query.Query{Filter: filter, Limit: 1})
	if err != nil {
		return 0, err
	}
	return res.TotalCount, nil
}
