package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/hcl"

	"github.com/kstaniek/go-can-telemetry/internal/telemetry"
)

// frameMapFile is the HCL shape of -frame-map:
//
//	light   = "0x11"
//	motor   = "0x03"
//
// Identifiers are strings so hex notation survives HCL. Missing keys keep
// the defaults.
type frameMapFile struct {
	Light       string `hcl:"light"`
	Anemometer  string `hcl:"anemometer"`
	Climate     string `hcl:"climate"`
	Pressure    string `hcl:"pressure"`
	Orientation string `hcl:"orientation"`
	Motor       string `hcl:"motor"`
	Display     string `hcl:"display"`
}

// loadFrameMap returns DefaultIDMap when path is empty, otherwise the
// defaults overridden by the file.
func loadFrameMap(path string) (telemetry.IDMap, error) {
	if path == "" {
		return telemetry.DefaultIDMap, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return telemetry.IDMap{}, fmt.Errorf("frame map: %w", err)
	}
	return parseFrameMap(b)
}

func parseFrameMap(b []byte) (telemetry.IDMap, error) {
	var f frameMapFile
	if err := hcl.Unmarshal(b, &f); err != nil {
		return telemetry.IDMap{}, fmt.Errorf("frame map: %w", err)
	}
	ids := telemetry.DefaultIDMap
	for _, e := range []struct {
		key string
		val string
		dst *uint32
	}{
		{"light", f.Light, &ids.Light},
		{"anemometer", f.Anemometer, &ids.Anemometer},
		{"climate", f.Climate, &ids.Climate},
		{"pressure", f.Pressure, &ids.Pressure},
		{"orientation", f.Orientation, &ids.Orientation},
		{"motor", f.Motor, &ids.Motor},
		{"display", f.Display, &ids.Display},
	} {
		if e.val == "" {
			continue
		}
		n, err := strconv.ParseUint(e.val, 0, 32)
		if err != nil {
			return telemetry.IDMap{}, fmt.Errorf("frame map %s: %w", e.key, err)
		}
		*e.dst = uint32(n)
	}
	if err := ids.Validate(); err != nil {
		return telemetry.IDMap{}, fmt.Errorf("frame map: %w", err)
	}
	return ids, nil
}
