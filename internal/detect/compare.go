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
	"math"

	"github.com/mlnoga/skyflag/internal/fits"
)

// Center-weighted 3x3 smoothing kernel for the secondary detection test
var smoothWeights = [9]float32{
	1, 2, 1,
	2, 4, 2,
	1, 2, 1,
}

// Compares an exposure against the reference sampled onto its native grid,
// and returns the outlier mask. A pixel is an outlier when its residual
// exceeds the primary threshold and its neighborhood-smoothed residual
// exceeds the secondary threshold, both in units of the modeled noise.
// Noise model per pixel: variance = scale0 * max(ref-backg, 0) + scale1^2.
// NaN data or reference pixels are never flagged
func Compare(data, nativeRef []float32, width int32, snr, scale [2]float32, backg float32) []bool {
	absRes := make([]float32, len(data))
	nan := float32(math.NaN())
	for i := range data {
		d, r := data[i], nativeRef[i]
		if math.IsNaN(float64(d)) || math.IsNaN(float64(r)) {
			absRes[i] = nan
			continue
		}
		res := d - r - backg
		if res < 0 {
			res = -res
		}
		absRes[i] = res
	}

	smoothed := smoothAbsResiduals(absRes, width)

	mask := make([]bool, len(data))
	for i := range data {
		res := absRes[i]
		if math.IsNaN(float64(res)) {
			continue
		}
		signal := nativeRef[i] - backg
		if signal < 0 {
			signal = 0
		}
		variance := scale[0]*signal + scale[1]*scale[1]
		sigma := float32(math.Sqrt(float64(variance)))

		if res > snr[0]*sigma && smoothed[i] > snr[1]*sigma {
			mask[i] = true
		}
	}
	return mask
}

// Smooths absolute residuals with the center-weighted 3x3 kernel.
// NaN and out-of-bounds neighbors contribute zero while the kernel
// normalization stays fixed, damping lone noisy pixels near gaps
func smoothAbsResiduals(absRes []float32, width int32) []float32 {
	height := int32(len(absRes)) / width
	out := make([]float32, len(absRes))
	for y := int32(0); y < height; y++ {
		for x := int32(0); x < width; x++ {
			sum := float32(0)
			k := 0
			for dy := int32(-1); dy <= 1; dy++ {
				for dx := int32(-1); dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					w := smoothWeights[k]
					k++
					if nx < 0 || nx >= width || ny < 0 || ny >= height {
						continue
					}
					v := absRes[ny*width+nx]
					if math.IsNaN(float64(v)) {
						continue
					}
					sum += w * v
				}
			}
			out[y*width+x] = sum / 16
		}
	}
	return out
}

// ORs the outlier bits into the exposure's DQ plane wherever the mask is
// true. Never clears existing bits; idempotent. Returns the number of newly
// flagged pixels
func FlagDQ(exposure *fits.Image, mask []bool) int {
	dq := exposure.EnsureDQ()
	newly := 0
	bits := fits.DQOutlier | fits.DQDoNotUse
	for i, m := range mask {
		if !m {
			continue
		}
		if dq[i]&bits != bits {
			newly++
		}
		dq[i] |= bits
	}
	return newly
}
