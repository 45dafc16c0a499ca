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

package stats

import (
	"fmt"
	"math"

	"github.com/mlnoga/skyflag/internal/qsort"
	"github.com/valyala/fastrand"
)

// Basic statistics on data arrays. NaN entries are skipped.
type BasicStats struct {
	Min    float32 // Minimum
	Max    float32 // Maximum
	Mean   float32 // Mean (average)
	StdDev float32 // Standard deviation (norm 2, sigma)

	Noise float32 // Noise estimation, not calculated by default (expensive)
}

// Pretty print basic stats to string
func (s *BasicStats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Noise %.4g",
		s.Min, s.Max, s.Mean, s.StdDev, s.Noise)
}

// Calculate basic statistics for a data array, skipping NaN entries.
func CalcBasicStats(data []float32) (s *BasicStats) {
	s = &BasicStats{Min: float32(math.MaxFloat32), Max: float32(-math.MaxFloat32)}

	num := 0
	sum := float64(0)
	for _, v := range data {
		if math.IsNaN(float64(v)) {
			continue
		}
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += float64(v)
		num++
	}
	if num == 0 {
		s.Min, s.Max = 0, 0
		return s
	}
	s.Mean = float32(sum / float64(num))

	variance := float64(0)
	for _, v := range data {
		if math.IsNaN(float64(v)) {
			continue
		}
		diff := float64(v - s.Mean)
		variance += diff * diff
	}
	s.StdDev = float32(math.Sqrt(variance / float64(num)))
	return s
}

// Calculate mean and standard deviation of the given values
func MeanStdDev(xs []float32) (mean, stdDev float32) {
	xmean := float32(0)
	for _, x := range xs {
		xmean += x
	}
	xmean /= float32(len(xs))
	xvar := float32(0)
	for _, x := range xs {
		diff := x - xmean
		xvar += diff * diff
	}
	xvar /= float32(len(xs))
	xstddev := float32(math.Sqrt(float64(xvar)))
	return xmean, xstddev
}

// Calculates fast approximate median of the (presumably large) data by subsampling
// the given number of values and taking the median of that.
// Uses provided samples array as scratchpad
func FastApproxMedian(data []float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		index := rng.Uint32n(max)
		samples[i] = data[index]
	}
	return qsort.QSelectMedianFloat32(samples)
}

// Calculates fast approximate median of absolute differences of the (presumably large)
// data by subsampling the given number of values and taking the MAD of that.
func FastApproxMAD(data []float32, location float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		index := rng.Uint32n(max)
		samples[i] = float32(math.Abs(float64(data[index] - location)))
	}
	return qsort.QSelectMedianFloat32(samples) * 1.4826 // normalize to Gaussian std dev.
}

// Weights for noise estimation
var enWeights []float32 = []float32{
	1, -2, 1,
	-2, 4, -2,
	1, -2, 1,
}

// Estimate the level of gaussian noise on a natural image.
// From J. Immerkær, “Fast Noise Variance Estimation”, Computer Vision and
// Image Understanding, Vol. 64, No. 2, pp. 300-302, Sep. 1996.
func EstimateNoise(data []float32, width int32) float32 {
	var enOffsets []int32 = []int32{
		-width - 1, -width, -width + 1,
		-1, 0, 1,
		width - 1, width, width + 1,
	}

	height := int32(len(data)) / width
	sum := float32(0)
	for y := int32(1); y < height-1; y++ {
		rowSum := float32(0)
		for x := int32(1); x < width-1; x++ {
			i := y*width + x
			conv := float32(0)
			for j, o := range enOffsets {
				conv += data[i+o] * enWeights[j]
			}
			rowSum += float32(math.Abs(float64(conv)))
		}
		sum += rowSum
	}
	factor := float32(math.Sqrt(0.5*math.Pi)) / (6 * float32(width-2) * float32(height-2))
	return sum * factor
}
