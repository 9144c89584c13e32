package withings

import (
	"sort"

	"github.com/goliatone/go-shims/core"
)

// measureTypes maps each published data type to the Withings measure type code.
var measureTypes = map[string]int{
	"weight_kg":                     1,
	"height_m":                      4,
	"fat_free_mass_kg":              5,
	"fat_ratio_percent":             6,
	"fat_mass_kg":                   8,
	"diastolic_blood_pressure_mmhg": 9,
	"systolic_blood_pressure_mmhg":  10,
	"heart_pulse_bpm":               11,
}

var measureDocs = map[string]string{
	"weight_kg":                     "Body weight in kilograms.",
	"height_m":                      "Height in meters.",
	"fat_free_mass_kg":              "Fat free mass in kilograms.",
	"fat_ratio_percent":             "Fat ratio as a percentage.",
	"fat_mass_kg":                   "Fat mass in kilograms.",
	"diastolic_blood_pressure_mmhg": "Diastolic blood pressure in mmHg.",
	"systolic_blood_pressure_mmhg":  "Systolic blood pressure in mmHg.",
	"heart_pulse_bpm":               "Heart pulse in beats per minute.",
}

func schemas() []core.Schema {
	types := make([]string, 0, len(measureTypes))
	for dataType := range measureTypes {
		types = append(types, dataType)
	}
	sort.Strings(types)
	out := make([]core.Schema, 0, len(types))
	for _, dataType := range types {
		out = append(out, core.NewSingleValueSchema(
			core.NewSchemaID(Domain, dataType).String(),
			dataType,
			measureDocs[dataType],
		))
	}
	return out
}
