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

package fits

import (
	"fmt"
	"math"
	"strings"

	"github.com/mlnoga/skyflag/internal/geom"
	"github.com/mlnoga/skyflag/internal/stats"
)

// Data quality flags, stored per pixel as a bit mask.
const (
	DQDoNotUse = int32(1 << 0) // pixel must not contribute to science products
	DQOutlier  = int32(1 << 4) // pixel deviates from the median sky beyond the noise model
)

// A FITS image with an optional per-pixel data quality plane.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
// Primer here: https://fits.gsfc.nasa.gov/fits_primer.html
type Image struct {
	ID       int    // Sequential ID number, for log output. Counted upwards from 0 for exposures
	FileName string // Original file name, if any, for log output.

	Header Header  // The header with all keys, values, comments, history entries etc.
	Bitpix int32   // Bits per pixel value from the header. Positive values are integral, negative floating.
	Bzero  float32 // Zero offset. True pixel value is Bzero + Bscale * Data[i].
	Bscale float32 // Value scaler. True pixel value is Bzero + Bscale * Data[i].
	// Helps implement unsigned values with signed data types.
	Naxisn []int32 // Axis dimensions. Most quickly varying dimension first (i.e. X,Y)
	Pixels int32   // Number of pixels in the image. Product of Naxisn[]

	Data []float32 // The image data
	DQ   []int32   // Data quality bit mask per pixel, nil if absent

	Exposure float32 // Image exposure in seconds
	ObsGroup string  // Observation group identifier, empty if ungrouped

	Stats *stats.BasicStats // Basic image statistics: min, mean, max

	Trans geom.Transform2D // Transformation from this image to the reference grid
}

// Creates a FITS image initialized with empty header
func NewImage() *Image {
	return &Image{
		Header: NewHeader(),
		Bscale: 1,
		Trans:  geom.IdentityTransform2D(),
	}
}

// Creates a FITS image from given naxisn. Data is not copied, allocated if nil. naxisn is deep copied
func NewImageFromNaxisn(naxisn []int32, data []float32) *Image {
	numPixels := int32(1)
	for _, naxis := range naxisn {
		numPixels *= naxis
	}
	if data == nil {
		data = make([]float32, numPixels)
	}
	return &Image{
		ID:       0,
		FileName: "",
		Header:   NewHeader(),
		Bitpix:   -32,
		Bzero:    0,
		Bscale:   1,
		Naxisn:   append([]int32(nil), naxisn...), // clone slice
		Pixels:   numPixels,
		Data:     data,
		DQ:       nil,
		Exposure: 0,
		ObsGroup: "",
		Stats:    nil,
		Trans:    geom.IdentityTransform2D(),
	}
}

// Creates a FITS image from given image, copying its metadata.
// A new data array will be allocated; the DQ plane is not copied
func NewImageFromImage(img *Image) *Image {
	data := make([]float32, img.Pixels)
	return &Image{
		ID:       img.ID,
		FileName: img.FileName,
		Header:   img.Header,
		Bitpix:   img.Bitpix,
		Bzero:    img.Bzero,
		Bscale:   img.Bscale,
		Naxisn:   append([]int32(nil), img.Naxisn...), // clone slice
		Pixels:   img.Pixels,
		Data:     data,
		DQ:       nil,
		Exposure: img.Exposure,
		ObsGroup: img.ObsGroup,
		Stats:    nil,
		Trans:    img.Trans,
	}
}

// FITS header data
type Header struct {
	Bools    map[string]bool
	Ints     map[string]int32
	Floats   map[string]float32
	Strings  map[string]string
	Dates    map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int32
}

// Creates a FITS header initialized with empty maps and arrays
func NewHeader() Header {
	return Header{
		Bools:    make(map[string]bool),
		Ints:     make(map[string]int32),
		Floats:   make(map[string]float32),
		Strings:  make(map[string]string),
		Dates:    make(map[string]string),
		Comments: make([]string, 0),
		History:  make([]string, 0),
		End:      false,
	}
}

const fitsBlockSize int = 2880 // Block size of FITS header and data units
const HeaderLineSize int = 80  // Line size of a FITS header

func (f *Image) DimensionsToString() string {
	b := strings.Builder{}
	for i, naxis := range f.Naxisn {
		if i > 0 {
			fmt.Fprintf(&b, "x%d", naxis)
		} else {
			fmt.Fprintf(&b, "%d", naxis)
		}
	}
	return b.String()
}

// Ensures the image has a DQ plane, allocating an all-zero one if absent
func (f *Image) EnsureDQ() []int32 {
	if f.DQ == nil {
		f.DQ = make([]int32, f.Pixels)
	}
	return f.DQ
}

// Replaces pixels whose DQ flags are not covered by goodBits with NaN.
// Pixels with a zero DQ value always survive. A nil DQ plane is a no-op
func (f *Image) MaskBadPixels(goodBits int32) {
	if f.DQ == nil {
		return
	}
	nan := float32(math.NaN())
	for i, dq := range f.DQ {
		if dq&^goodBits != 0 {
			f.Data[i] = nan
		}
	}
}

// Counts pixels whose DQ value has any of the given bits set
func (f *Image) CountDQ(bits int32) (count int) {
	for _, dq := range f.DQ {
		if dq&bits != 0 {
			count++
		}
	}
	return count
}

// Calculates and caches basic statistics for the image data
func (f *Image) CalcStats() *stats.BasicStats {
	f.Stats = stats.CalcBasicStats(f.Data)
	return f.Stats
}

// Equal tells whether a and b contain the same elements.
// A nil argument is equivalent to an empty slice.
func EqualInt32Slice(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
