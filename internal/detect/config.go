// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package detect

import (
	"fmt"

	"github.com/mlnoga/skyflag/internal/drizzle"
	"github.com/mlnoga/skyflag/internal/fits"
)

// Configuration for a detection run. JSON tags serve both the CLI config
// file and the REST endpoint
type Config struct {
	ResampleData            bool       `json:"resampleData"`            // drizzle groups onto a common grid
	WeightType              string     `json:"weightType"`              // exptime, expsq or ivm
	GoodBits                int32      `json:"goodBits"`                // DQ bits which do not disqualify a pixel
	Maskpt                  float32    `json:"maskpt"`                  // weight threshold fraction in (0,1]
	SNR                     [2]float32 `json:"snr"`                     // primary and secondary detection thresholds
	Scale                   [2]float32 `json:"scale"`                   // noise model: signal factor and constant floor
	Backg                   float32    `json:"backg"`                   // constant background level
	SaveIntermediateResults bool       `json:"saveIntermediateResults"` // persist mosaics and reference image
	InMemory                bool       `json:"inMemory"`                // keep mosaics in memory instead of temp files
	TempDir                 string     `json:"tempDir,omitempty"`       // directory for spilled mosaics
}

// Returns the default configuration
func NewConfig() Config {
	return Config{
		ResampleData:            true,
		WeightType:              drizzle.WeightIvm,
		GoodBits:                ^fits.DQDoNotUse,
		Maskpt:                  0.7,
		SNR:                     [2]float32{5, 4},
		Scale:                   [2]float32{1.2, 0.7},
		Backg:                   0,
		SaveIntermediateResults: false,
		InMemory:                true,
	}
}

// Validates the configuration. Returns a ConfigError describing the first
// violation found, or nil
func (c *Config) Validate() error {
	if !drizzle.ValidWeightType(c.WeightType) {
		return &ConfigError{Msg: fmt.Sprintf("unknown weight type %q", c.WeightType)}
	}
	if c.Maskpt <= 0 || c.Maskpt > 1 {
		return &ConfigError{Msg: fmt.Sprintf("maskpt %f outside (0,1]", c.Maskpt)}
	}
	if c.SNR[0] <= 0 || c.SNR[1] < 0 {
		return &ConfigError{Msg: fmt.Sprintf("snr thresholds %v must be positive", c.SNR)}
	}
	if c.Scale[0] < 0 || c.Scale[1] < 0 {
		return &ConfigError{Msg: fmt.Sprintf("scale factors %v must not be negative", c.Scale)}
	}
	if c.Scale[0] == 0 && c.Scale[1] == 0 {
		return &ConfigError{Msg: "scale factors are both zero, noise model degenerates"}
	}
	return nil
}
