/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package config holds the one process-wide tunable the reassembly
// engine needs (§6.4) and the gcfg-based loader the demo capture
// command uses to read it from an INI file, in the same
// cfgReadType/cfgType split the rest of the gravwell ingesters use.
package config

import (
	"fmt"

	"github.com/gravwell/gcfg"
)

const (
	// DefaultMaxTCPOutOfOrderPackets is used when a config file omits
	// the setting, or when Clamp is asked to repair a zero value.
	DefaultMaxTCPOutOfOrderPackets = 256

	MinMaxTCPOutOfOrderPackets = 64
	MaxMaxTCPOutOfOrderPackets = 10000
)

// Config is the engine-facing, already-validated tunable set.
type Config struct {
	MaxTCPOutOfOrderPackets int
}

// Clamp fills in the default and enforces the [64, 10000] bound
// (§6.4, also relied on by tcpreasm's queue-bound check).
func (c *Config) Clamp() {
	if c.MaxTCPOutOfOrderPackets == 0 {
		c.MaxTCPOutOfOrderPackets = DefaultMaxTCPOutOfOrderPackets
	}
	if c.MaxTCPOutOfOrderPackets < MinMaxTCPOutOfOrderPackets {
		c.MaxTCPOutOfOrderPackets = MinMaxTCPOutOfOrderPackets
	}
	if c.MaxTCPOutOfOrderPackets > MaxMaxTCPOutOfOrderPackets {
		c.MaxTCPOutOfOrderPackets = MaxMaxTCPOutOfOrderPackets
	}
}

// cfgReadType mirrors the INI file's shape before validation; a plain
// int field lets a missing key decode to the Go zero value, which
// Clamp then turns into the documented default.
type cfgReadType struct {
	Global struct {
		Max_TCP_Out_Of_Order_Packets int
		Worker_Count                 int
		Log_Level                    string
	}
}

// Load reads an INI-style config file via gcfg, the same library the
// rest of the ecosystem's ingesters use for their config files.
func Load(path string) (Config, int, string, error) {
	var cr cfgReadType
	if err := gcfg.ReadFileInto(&cr, path); err != nil {
		return Config{}, 0, "", fmt.Errorf("reading config file %s: %w", path, err)
	}
	c := Config{MaxTCPOutOfOrderPackets: cr.Global.Max_TCP_Out_Of_Order_Packets}
	c.Clamp()
	workers := cr.Global.Worker_Count
	if workers <= 0 {
		workers = 1
	}
	return c, workers, cr.Global.Log_Level, nil
}
