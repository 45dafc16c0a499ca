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

package combine

import (
	"io"
	"math"
	"testing"

	"github.com/mlnoga/skyflag/internal/drizzle"
	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/ops"
)

func newTestMosaic(naxisn []int32, fill, weight float32) *drizzle.Mosaic {
	img := fits.NewImageFromNaxisn(naxisn, nil)
	weights := make([]float32, img.Pixels)
	for i := range img.Data {
		img.Data[i] = fill
		weights[i] = weight
	}
	return &drizzle.Mosaic{
		Image:     img,
		Weight:    weights,
		Naxisn:    append([]int32(nil), naxisn...),
		Resampled: true,
	}
}

func testCtx() *ops.Context {
	return ops.NewContext(io.Discard, 2)
}

func TestMediansOddStack(t *testing.T) {
	naxisn := []int32{4, 4}
	mosaics := []*drizzle.Mosaic{
		newTestMosaic(naxisn, 1, 10),
		newTestMosaic(naxisn, 3, 10),
		newTestMosaic(naxisn, 2, 10),
	}
	ref, err := Medians(mosaics, 0.7, testCtx())
	if err != nil {
		t.Fatalf("Medians: %s", err.Error())
	}
	for i, v := range ref.Data {
		if v != 2 {
			t.Errorf("pixel %d got %f expect 2", i, v)
		}
	}
}

func TestMediansEvenStackAverages(t *testing.T) {
	naxisn := []int32{2, 2}
	mosaics := []*drizzle.Mosaic{
		newTestMosaic(naxisn, 1, 10),
		newTestMosaic(naxisn, 2, 10),
		newTestMosaic(naxisn, 3, 10),
		newTestMosaic(naxisn, 4, 10),
	}
	ref, err := Medians(mosaics, 0.7, testCtx())
	if err != nil {
		t.Fatalf("Medians: %s", err.Error())
	}
	if ref.Data[0] != 2.5 {
		t.Errorf("even stack median got %f expect 2.5", ref.Data[0])
	}
}

func TestMediansMaskptScaleInvariance(t *testing.T) {
	naxisn := []int32{4, 4}
	build := func(scale float32) []*drizzle.Mosaic {
		return []*drizzle.Mosaic{
			newTestMosaic(naxisn, 5, 10*scale),
			newTestMosaic(naxisn, 6, 20*scale),
			newTestMosaic(naxisn, 7, 5*scale),
		}
	}
	refA, err := Medians(build(1), 0.5, testCtx())
	if err != nil {
		t.Fatalf("Medians: %s", err.Error())
	}
	refB, err := Medians(build(1000), 0.5, testCtx())
	if err != nil {
		t.Fatalf("Medians: %s", err.Error())
	}
	for i := range refA.Data {
		if refA.Data[i] != refB.Data[i] {
			t.Errorf("pixel %d: %f vs %f after weight rescaling", i, refA.Data[i], refB.Data[i])
		}
	}
}

func TestMediansZeroWeightExcluded(t *testing.T) {
	naxisn := []int32{2, 2}
	a := newTestMosaic(naxisn, 100, 10) // will be zero-weighted at pixel 0
	b := newTestMosaic(naxisn, 2, 10)
	c := newTestMosaic(naxisn, 2, 10)
	a.Weight[0] = 0

	ref, err := Medians([]*drizzle.Mosaic{a, b, c}, 0.7, testCtx())
	if err != nil {
		t.Fatalf("Medians: %s", err.Error())
	}
	if ref.Data[0] != 2 {
		t.Errorf("pixel 0 got %f expect 2, zero-weight member must not contribute", ref.Data[0])
	}
	if ref.Data[1] != 2 {
		t.Errorf("pixel 1 got %f expect 2", ref.Data[1])
	}
}

func TestMediansAllZeroWeightIsNaN(t *testing.T) {
	naxisn := []int32{2, 2}
	a := newTestMosaic(naxisn, 1, 10)
	b := newTestMosaic(naxisn, 2, 10)
	a.Weight[3], b.Weight[3] = 0, 0

	ref, err := Medians([]*drizzle.Mosaic{a, b}, 0.7, testCtx())
	if err != nil {
		t.Fatalf("Medians: %s", err.Error())
	}
	if !math.IsNaN(float64(ref.Data[3])) {
		t.Errorf("pixel 3 got %f expect NaN", ref.Data[3])
	}
}

func TestMediansLowWeightBelowThresholdExcluded(t *testing.T) {
	naxisn := []int32{2, 2}
	a := newTestMosaic(naxisn, 1000, 1) // weight far below maskpt * median weight
	b := newTestMosaic(naxisn, 2, 10)
	c := newTestMosaic(naxisn, 2, 10)

	ref, err := Medians([]*drizzle.Mosaic{a, b, c}, 0.7, testCtx())
	if err != nil {
		t.Fatalf("Medians: %s", err.Error())
	}
	if ref.Data[0] != 2 {
		t.Errorf("pixel 0 got %f expect 2, low-weight member must be excluded", ref.Data[0])
	}
}

func TestMediansErrors(t *testing.T) {
	if _, err := Medians(nil, 0.7, testCtx()); err == nil {
		t.Error("empty stack should error")
	}
	mosaics := []*drizzle.Mosaic{
		newTestMosaic([]int32{2, 2}, 1, 10),
		newTestMosaic([]int32{3, 3}, 1, 10),
	}
	if _, err := Medians(mosaics, 0.7, testCtx()); err == nil {
		t.Error("shape mismatch should error")
	}
	same := []*drizzle.Mosaic{newTestMosaic([]int32{2, 2}, 1, 10)}
	if _, err := Medians(same, 0, testCtx()); err == nil {
		t.Error("maskpt 0 should error")
	}
	if _, err := Medians(same, 1.5, testCtx()); err == nil {
		t.Error("maskpt over 1 should error")
	}
}
