package fitbit

import "github.com/goliatone/go-shims/core"

const (
	TypeActivity = "activity"
	TypeSleep    = "sleep"
	TypeSteps    = "steps"
)

func schemas() []core.Schema {
	return []core.Schema{
		{
			ID:      core.NewSchemaID(Domain, TypeActivity).String(),
			Version: 1,
			Definition: map[string]any{
				"type": "object",
				"doc":  "Daily activity summary.",
				"fields": []any{
					map[string]any{"name": "steps", "type": "number", "doc": "Steps taken."},
					map[string]any{"name": "calories_out", "type": "number", "doc": "Calories burned."},
					map[string]any{"name": "distance", "type": "number", "doc": "Total distance travelled."},
					map[string]any{"name": "floors", "type": "number", "doc": "Floors climbed.", "optional": true},
				},
			},
		},
		{
			ID:      core.NewSchemaID(Domain, TypeSleep).String(),
			Version: 1,
			Definition: map[string]any{
				"type": "object",
				"doc":  "Daily sleep summary.",
				"fields": []any{
					map[string]any{"name": "minutes_asleep", "type": "number", "doc": "Total minutes asleep."},
					map[string]any{"name": "time_in_bed", "type": "number", "doc": "Total minutes in bed."},
				},
			},
		},
		core.NewSingleValueSchema(core.NewSchemaID(Domain, TypeSteps).String(), TypeSteps, "Steps taken during the day."),
	}
}
