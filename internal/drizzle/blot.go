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
)

// Samples the reference image back onto the exposure's native grid by
// bilinear interpolation. Out-of-bounds and NaN-adjacent positions are NaN.
// When the reference grid matches the exposure's grid exactly, the reference
// data is returned as a copy without interpolation
func Blot(reference, exposure *fits.Image) ([]float32, error) {
	sameGrid := fits.EqualInt32Slice(reference.Naxisn, exposure.Naxisn)
	if sameGrid {
		refToSky, expToSky := reference.Trans, exposure.Trans
		if refToSky == expToSky {
			out := make([]float32, len(reference.Data))
			copy(out, reference.Data)
			return out, nil
		}
	}

	// native -> sky -> reference grid
	skyToRef, err := reference.Trans.Invert()
	if err != nil {
		return nil, fmt.Errorf("%d: reference grid transform: %s", exposure.ID, err.Error())
	}
	nativeToRef := exposure.Trans.Compose(skyToRef)
	refToNative, err := nativeToRef.Invert()
	if err != nil {
		return nil, fmt.Errorf("%d: %s", exposure.ID, err.Error())
	}

	blotted, err := reference.Project(exposure.Naxisn, refToNative, float32(math.NaN()))
	if err != nil {
		return nil, fmt.Errorf("%d: %s", exposure.ID, err.Error())
	}
	return blotted.Data, nil
}
