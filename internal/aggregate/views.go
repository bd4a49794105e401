package aggregate

import (
	"calstats/internal/schema"
)

// DefaultViews returns the standard dashboard for s: events over time, the
// lab booking views for whichever of their fields s declares, and a plain
// breakdown for every other field. bucket is the granularity of the time
// series views.
func DefaultViews(s *schema.Schema, bucket Bucket) []Spec {
	if bucket == "" || bucket == BucketNone {
		bucket = BucketMonth
	}
	has := func(names ...string) bool {
		for _, n := range names {
			if _, ok := s.Index(n); !ok {
				return false
			}
		}
		return true
	}

	views := []Spec{{
		Name:   "events_over_time",
		Title:  "Events over time",
		Bucket: bucket,
		Kind:   KindCount,
	}}
	covered := map[string]bool{}
	add := func(v Spec, fields ...string) {
		if !has(fields...) {
			return
		}
		views = append(views, v)
		for _, f := range fields {
			covered[f] = true
		}
	}

	add(Spec{
		Name:    "event_category",
		Title:   "Events by category",
		GroupBy: []string{schema.FieldEventCategory},
	}, schema.FieldEventCategory)
	add(Spec{
		Name:    "organiser",
		Title:   "Events by organiser",
		GroupBy: []string{schema.FieldOrganiser},
	}, schema.FieldOrganiser)
	add(Spec{
		Name:    "event_category_by_organiser",
		Title:   "Events by organiser and category",
		GroupBy: []string{schema.FieldOrganiser, schema.FieldEventCategory},
	}, schema.FieldOrganiser, schema.FieldEventCategory)
	add(Spec{
		Name:    "organiser_detail",
		Title:   "Events by organiser detail (top 20)",
		GroupBy: []string{schema.FieldOrganiserDetail},
		TopK:    20,
	}, schema.FieldOrganiserDetail)
	add(Spec{
		Name:    "equipment",
		Title:   "Equipment use by type",
		GroupBy: []string{schema.FieldEquipment},
	}, schema.FieldEquipment)
	add(Spec{
		Name:     "equipment_presence",
		Title:    "Events using any equipment",
		GroupBy:  []string{schema.FieldEquipment},
		Presence: true,
		Order:    OrderFirstSeen,
	}, schema.FieldEquipment)
	add(Spec{
		Name:    "participants_by_category",
		Title:   "Participants by category",
		GroupBy: []string{schema.FieldEventCategory},
		Kind:    KindSum,
		Field:   schema.FieldParticipantCount,
	}, schema.FieldEventCategory, schema.FieldParticipantCount)
	add(Spec{
		Name:   "participants_over_time",
		Title:  "Participants over time",
		Bucket: bucket,
		Kind:   KindSum,
		Field:  schema.FieldParticipantCount,
	}, schema.FieldParticipantCount)

	// Free text makes no useful breakdown.
	covered[schema.FieldNotes] = true
	covered[schema.FieldEventDescription] = true

	for _, f := range s.Fields {
		if covered[f.Name] {
			continue
		}
		switch f.Kind {
		case schema.KindInt, schema.KindFloat:
			views = append(views, Spec{
				Name:   f.Name + "_over_time",
				Title:  "Sum of " + f.Name + " over time",
				Bucket: bucket,
				Kind:   KindSum,
				Field:  f.Name,
			})
		case schema.KindBool:
			views = append(views, Spec{
				Name:    f.Name,
				Title:   "Events by " + f.Name,
				GroupBy: []string{f.Name},
				Order:   OrderKey,
			})
		default:
			views = append(views, Spec{
				Name:    f.Name,
				Title:   "Events by " + f.Name,
				GroupBy: []string{f.Name},
				TopK:    20,
			})
		}
	}
	return views
}
