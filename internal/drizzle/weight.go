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

package drizzle

import (
	"fmt"
	"math"

	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/stats"
)

// Supported pixel weighting schemes
const (
	WeightExptime = "exptime" // weight by exposure duration
	WeightExpsq   = "expsq"   // weight by squared exposure duration
	WeightIvm     = "ivm"     // weight by inverse variance of the estimated noise
)

// Returns true if the given weight type is one of the supported schemes
func ValidWeightType(weightType string) bool {
	switch weightType {
	case WeightExptime, WeightExpsq, WeightIvm:
		return true
	}
	return false
}

// Builds the per-pixel weight map for an exposure. Pixels whose DQ flags are
// not covered by goodBits get weight zero, as do NaN pixels. All other pixels
// share the scalar weight given by the weighting scheme
func BuildWeight(exposure *fits.Image, weightType string, goodBits int32) ([]float32, error) {
	var scalar float32
	switch weightType {
	case WeightExptime:
		scalar = exposure.Exposure
	case WeightExpsq:
		scalar = exposure.Exposure * exposure.Exposure
	case WeightIvm:
		noise := stats.EstimateNoise(exposure.Data, exposure.Naxisn[0])
		if noise > 0 {
			scalar = 1.0 / (noise * noise)
		} else {
			scalar = 1 // noiseless data, weight uniformly
		}
	default:
		return nil, fmt.Errorf("%d: unknown weight type %q", exposure.ID, weightType)
	}
	if scalar <= 0 {
		scalar = 1 // missing exposure metadata must not erase the frame
	}

	weight := make([]float32, exposure.Pixels)
	for i := range weight {
		if math.IsNaN(float64(exposure.Data[i])) {
			continue
		}
		if exposure.DQ != nil && exposure.DQ[i]&^goodBits != 0 {
			continue
		}
		weight[i] = scalar
	}
	return weight, nil
}
