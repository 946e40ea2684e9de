package simulation

import (
	"math/rand"
	"time"
)

// DefaultIntervals are staggered so that buckets do not tick together.
var DefaultIntervals = []time.Duration{
	10 * time.Second, 11 * time.Second, 12 * time.Second,
	13 * time.Second, 14 * time.Second, 15 * time.Second,
	16 * time.Second, 17 * time.Second, 18 * time.Second,
}

type plantSensor struct {
	alias, location        string
	min, max, mean, stdDev float64
}

var plant = []plantSensor{
	{"TempSensor01", "Conveyor Belt 1", 0, 50, 25, 2},
	{"FAULTY_HumiditySensor-A1", "Filling Line 3", 20, 90, 55, 10},
	{"PressureSensor789", "Boiler Room", 1, 10, 5.5, 1},
	{"VibrationSensorB", "Machine Room", 0, 100, 50, 10},
	{"FlowSensor-R23", "Filling Line 3", 0, 10, 5, 0.5},
	{"LevelSensor-L4", "Storage Tank 2", 0, 100, 50, 5},
	{"RotationalSensor3", "Main Assembly Line", 0, 360, 180, 30},
	{"AcousticSensor-X2", "Boiler Room", 20, 120, 70, 10},
	{"ChemicalSensor-C17", "Chemical Storage", 0, 14, 7, 1},
	{"RadiationSensor-R5", "Waste Disposal", 0, 10, 0.5, 0.1},
	{"LightSensor-LS1", "Main Assembly Line", 0, 1000, 500, 50},
	{"ProximitySensor-P3", "Loading Dock", 0, 10, 5, 1},
	{"MagneticSensor-M7", "Machine Room", -100, 100, 0, 20},
	{"SmokeSensor-S2", "Boiler Room", 0, 100, 5, 2},
	{"MotionSensor-M1", "Security Gate", 0, 1, 0.5, 0.1},
	{"TempSensor02", "Conveyor Belt 2", 0, 50, 25, 2},
	{"HumiditySensor-A2", "Filling Line 1", 20, 90, 55, 10},
	{"PressureSensor790", "HVAC System", 1, 10, 5.5, 1},
	{"VibrationSensorC", "Machine Room 2", 0, 100, 50, 10},
	{"FlowSensor-R24", "Filling Line 2", 0, 10, 5, 0.5},
	{"LevelSensor-L5", "Storage Tank 3", 0, 100, 50, 5},
	{"RotationalSensor4", "Auxiliary Assembly Line", 0, 360, 180, 30},
	{"AcousticSensor-X3", "HVAC System", 20, 120, 70, 10},
	{"ChemicalSensor-C18", "Chemical Storage 2", 0, 14, 7, 1},
	{"RadiationSensor-R6", "Waste Disposal 2", 0, 10, 0.5, 0.1},
	{"LightSensor-LS2", "Auxiliary Assembly Line", 0, 1000, 500, 50},
	{"ProximitySensor-P4", "Unloading Dock", 0, 10, 5, 1},
	{"MagneticSensor-M8", "Machine Room 3", -100, 100, 0, 20},
	{"SmokeSensor-S3", "HVAC System", 0, 100, 5, 2},
	{"MotionSensor-M2", "Security Gate 2", 0, 1, 0.5, 0.1},
	{"TempSensor03", "Conveyor Belt 3", 0, 50, 25, 2},
	{"HumiditySensor-A3", "Filling Line 2", 20, 90, 55, 10},
	{"PressureSensor791", "Boiler Room 2", 1, 10, 5.5, 1},
	{"VibrationSensorD", "Machine Room 4", 0, 100, 50, 10},
	{"FlowSensor-R25", "Filling Line 1", 0, 10, 5, 0.5},
	{"LevelSensor-L6", "Storage Tank 1", 0, 100, 50, 5},
	{"RotationalSensor5", "Main Assembly Line", 0, 360, 180, 30},
	{"AcousticSensor-X4", "Boiler Room 2", 20, 120, 70, 10},
	{"ChemicalSensor-C19", "Chemical Storage 3", 0, 14, 7, 1},
	{"RadiationSensor-R7", "Waste Disposal 3", 0, 10, 0.5, 0.1},
}

// PlantSpecs returns the built-in plant, each sensor on an interval picked
// at random from intervals (DefaultIntervals when empty).
func PlantSpecs(rng *rand.Rand, intervals []time.Duration) []Spec {
	if len(intervals) == 0 {
		intervals = DefaultIntervals
	}
	specs := make([]Spec, 0, len(plant))
	for _, p := range plant {
		specs = append(specs, Spec{
			Alias:        p.alias,
			Location:     p.location,
			Min:          p.min,
			Max:          p.max,
			Mean:         p.mean,
			StdDev:       p.stdDev,
			PollInterval: intervals[rng.Intn(len(intervals))],
		})
	}
	return specs
}
