// Command soundtool exercises the open/read/write/ioctl surface against an
// in-process fake controller driven by a YAML scenario file, for manual
// and scripted exploration of the I/O path without real hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hdacore/internal/devtable"
	"hdacore/internal/logx"
	"hdacore/internal/soundcore"
)

var log = logx.New("soundtool")

// Scenario is a bench fixture: the device to open and a sequence of
// write/read/ioctl steps to run against it.
type Scenario struct {
	Device string `yaml:"device"`
	Steps  []Step `yaml:"steps"`
}

// Step is one scripted action.
type Step struct {
	Write     string `yaml:"write,omitempty"`
	ReadBytes int    `yaml:"read_bytes,omitempty"`
	SetRate   uint32 `yaml:"set_rate,omitempty"`
	SetVolume int    `yaml:"set_volume,omitempty"`
	SleepMS   int    `yaml:"sleep_ms,omitempty"`
}

func main() {
	scenarioPath := flag.String("scenario", "", "path to a YAML scenario file")
	flag.Parse()

	if *scenarioPath == "" {
		runDefaultScenario()
		return
	}
	raw, err := os.ReadFile(*scenarioPath)
	if err != nil {
		log.Errorf("read scenario: %v", err)
		os.Exit(1)
	}
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		log.Errorf("parse scenario: %v", err)
		os.Exit(1)
	}
	runScenario(sc)
}

func runDefaultScenario() {
	runScenario(Scenario{
		Device: "output0",
		Steps: []Step{
			{SetVolume: 60},
			{SetRate: 48000},
			{Write: "the quick brown fox jumps over the lazy dog"},
			{SleepMS: 50},
		},
	})
}

func runScenario(sc Scenario) {
	ctrl := newBenchController()
	h, err := soundcore.Open(ctrl, sc.Device)
	if err != nil {
		log.Errorf("open %s: %v", sc.Device, err)
		os.Exit(1)
	}
	defer h.Close()

	ctx := context.Background()
	for i, step := range sc.Steps {
		switch {
		case step.Write != "":
			n, err := h.Write(ctx, []byte(step.Write), 2000)
			fmt.Printf("step %d: wrote %d/%d bytes, err=%v\n", i, n, len(step.Write), err)
		case step.ReadBytes > 0:
			buf := make([]byte, step.ReadBytes)
			n, err := h.Read(ctx, buf, 2000, 0)
			fmt.Printf("step %d: read %d bytes, err=%v\n", i, n, err)
		case step.SetRate != 0:
			reply, err := h.Ioctl(soundcore.SetSampleRate, step.SetRate)
			fmt.Printf("step %d: rate -> %v, err=%v\n", i, reply, err)
		case step.SetVolume != 0:
			reply, err := h.Ioctl(soundcore.SetVolume, devtable.Volume{Left: step.SetVolume, Right: step.SetVolume})
			fmt.Printf("step %d: volume -> %v, err=%v\n", i, reply, err)
		case step.SleepMS > 0:
			time.Sleep(time.Duration(step.SleepMS) * time.Millisecond)
		}
	}
}
