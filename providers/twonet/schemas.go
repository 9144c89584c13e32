package twonet

import (
	"sort"

	"github.com/goliatone/go-shims/core"
)

// Device keys double as the token extras holding each registered track guid.
const (
	DeviceEntraGlucometer       = "entra_glucometer"
	DeviceNoninPulseOximeter    = "nonin_pulseoximeter"
	DeviceADWeightScale         = "ad_weight_scale"
	DeviceADBloodPressure       = "ad_blood_pressure"
	DeviceAsthmapolisSpiroscout = "asthmapolis_spiroscout"

	// ExtraUser holds the partner guid of the registered user.
	ExtraUser = "user"
)

type device struct {
	key    string
	make   string
	model  string
	serial string
}

// devices are registered in this order for every new user.
var devices = []device{
	{key: DeviceEntraGlucometer, make: "Entra", model: "MGH-BT1", serial: "2NET00001"},
	{key: DeviceNoninPulseOximeter, make: "Nonin", model: "9560 Onyx II", serial: "2NET00002"},
	{key: DeviceADWeightScale, make: "A&D", model: "UC-321PBT", serial: "2NET00003"},
	{key: DeviceADBloodPressure, make: "A&D", model: "UA-767PBT", serial: "2NET00004"},
	{key: DeviceAsthmapolisSpiroscout, make: "Asthmapolis", model: "Rev B", serial: "2NET00005"},
}

type dataType struct {
	device      string
	measureType string
	measureName string
	doc         string
}

var dataTypes = map[string]dataType{
	"glucose_mg_per_dl": {DeviceEntraGlucometer, "blood", "glucose", "Glucose level in mg/dL."},
	"temperature_f":     {DeviceEntraGlucometer, "environment", "temperature", "Ambient temperature in Fahrenheit."},
	"nonin_pulse_bpm":   {DeviceNoninPulseOximeter, "blood", "pulse", "Pulse rate in beats per minute."},
	"spo2_percent":      {DeviceNoninPulseOximeter, "blood", "spo2", "Blood oxygen saturation percentage."},
	"weight_lbs":        {DeviceADWeightScale, "body", "weight", "Weight in pounds."},
	"ad_pulse_bpm":      {DeviceADBloodPressure, "blood", "pulse", "Pulse rate in beats per minute."},
	"systolic_mmhg":     {DeviceADBloodPressure, "blood", "systolic", "Systolic pressure in mmHg."},
	"diastolic_mmhg":    {DeviceADBloodPressure, "blood", "diastolic", "Diastolic pressure in mmHg."},
	"map_mmhg":          {DeviceADBloodPressure, "blood", "map", "Mean arterial pressure in mmHg."},
	"inhale_count":      {DeviceAsthmapolisSpiroscout, "breath", "inhale", "Inhale count."},
}

func schemas() []core.Schema {
	names := make([]string, 0, len(dataTypes))
	for name := range dataTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]core.Schema, 0, len(names))
	for _, name := range names {
		out = append(out, core.NewSingleValueSchema(core.NewSchemaID(Domain, name).String(), name, dataTypes[name].doc))
	}
	return out
}
