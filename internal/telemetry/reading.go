// ABOUTME: Simulated sensor readings published by the telemetry tool
// ABOUTME: Generates hopper/knuth/turing device payloads with random values
package telemetry

import (
	"encoding/json"
	"math/rand"
	"sync"
	"time"
)

// Devices are the simulated sensor nodes, published in this order
var Devices = []string{"hopper", "knuth", "turing"}

// Value ranges of a simulated reading, inclusive
const (
	SensorMin    = 30
	SensorMax    = 39
	ChargeMin    = -10
	ChargeMax    = 19
	DischargeMin = 0
	DischargeMax = 4
)

// Reading is one telemetry payload
type Reading struct {
	DeviceID             string `json:"deviceId"`
	SensorReading        int    `json:"sensorReading"`
	BatteryCharge        int    `json:"batteryCharge"`
	BatteryDischargeRate int    `json:"batteryDischargeRate"`
}

// Payload encodes the reading as published
func (r Reading) Payload() ([]byte, error) {
	return json.MarshalIndent(r, "", " ")
}

// Generator produces readings for the simulated devices in turn
type Generator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	next int
}

// NewGenerator creates a generator. A zero seed uses the current time.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Next returns a reading for the next device in the cycle
func (g *Generator) Next() Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	device := Devices[g.next]
	g.next = (g.next + 1) % len(Devices)

	return Reading{
		DeviceID:             device,
		SensorReading:        SensorMin + g.rng.Intn(SensorMax-SensorMin+1),
		BatteryCharge:        ChargeMin + g.rng.Intn(ChargeMax-ChargeMin+1),
		BatteryDischargeRate: DischargeMin + g.rng.Intn(DischargeMax-DischargeMin+1),
	}
}
