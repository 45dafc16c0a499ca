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
	"io"
	"math"
	"testing"

	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/geom"
	"github.com/mlnoga/skyflag/internal/ops"
)

func newTestExposure(id int, naxisn []int32, fill float32) *fits.Image {
	img := fits.NewImageFromNaxisn(naxisn, nil)
	img.ID = id
	img.Exposure = 100
	for i := range img.Data {
		img.Data[i] = fill
	}
	return img
}

func TestBuildWeightExptime(t *testing.T) {
	e := newTestExposure(0, []int32{4, 4}, 10)
	e.EnsureDQ()
	e.DQ[3] = fits.DQDoNotUse
	e.Data[5] = float32(math.NaN())

	w, err := BuildWeight(e, WeightExptime, 0)
	if err != nil {
		t.Fatalf("BuildWeight: %s", err.Error())
	}
	if w[0] != 100 {
		t.Errorf("clean pixel weight got %f expect 100", w[0])
	}
	if w[3] != 0 {
		t.Errorf("flagged pixel weight got %f expect 0", w[3])
	}
	if w[5] != 0 {
		t.Errorf("NaN pixel weight got %f expect 0", w[5])
	}
}

func TestBuildWeightExpsq(t *testing.T) {
	e := newTestExposure(0, []int32{2, 2}, 10)
	w, err := BuildWeight(e, WeightExpsq, 0)
	if err != nil {
		t.Fatalf("BuildWeight: %s", err.Error())
	}
	if w[0] != 100*100 {
		t.Errorf("weight got %f expect 10000", w[0])
	}
}

func TestBuildWeightGoodBits(t *testing.T) {
	e := newTestExposure(0, []int32{2, 2}, 10)
	e.EnsureDQ()
	e.DQ[0] = 4 // covered by goodBits below
	e.DQ[1] = fits.DQDoNotUse

	w, err := BuildWeight(e, WeightExptime, 4)
	if err != nil {
		t.Fatalf("BuildWeight: %s", err.Error())
	}
	if w[0] == 0 {
		t.Error("pixel with permitted DQ bits got weight 0")
	}
	if w[1] != 0 {
		t.Error("pixel with disqualifying DQ bits kept its weight")
	}
}

func TestBuildWeightUnknownType(t *testing.T) {
	e := newTestExposure(0, []int32{2, 2}, 10)
	if _, err := BuildWeight(e, "bogus", 0); err == nil {
		t.Error("expect error for unknown weight type")
	}
	if ValidWeightType("bogus") {
		t.Error("bogus should not validate")
	}
	for _, wt := range []string{WeightExptime, WeightExpsq, WeightIvm} {
		if !ValidWeightType(wt) {
			t.Errorf("%s should validate", wt)
		}
	}
}

func TestGroupExposures(t *testing.T) {
	a := newTestExposure(0, []int32{2, 2}, 1)
	b := newTestExposure(1, []int32{2, 2}, 1)
	c := newTestExposure(2, []int32{2, 2}, 1)
	a.ObsGroup, b.ObsGroup, c.ObsGroup = "v1", "v2", "v1"

	groups := GroupExposures([]*fits.Image{a, b, c})
	if len(groups) != 2 {
		t.Fatalf("got %d groups expect 2", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0].ID != 0 || groups[0][1].ID != 2 {
		t.Errorf("first group wrong: %v", groups[0])
	}

	// ungrouped exposures each form their own group
	a.ObsGroup, b.ObsGroup, c.ObsGroup = "", "", ""
	groups = GroupExposures([]*fits.Image{a, b, c})
	if len(groups) != 3 {
		t.Errorf("ungrouped: got %d groups expect 3", len(groups))
	}
}

func TestCommonGrid(t *testing.T) {
	a := newTestExposure(0, []int32{10, 10}, 1)
	b := newTestExposure(1, []int32{10, 10}, 1)
	b.Trans = geom.TranslationTransform2D(5, 0)

	naxisn, trans, err := CommonGrid([]*fits.Image{a, b})
	if err != nil {
		t.Fatalf("CommonGrid: %s", err.Error())
	}
	if naxisn[0] != 15 || naxisn[1] != 10 {
		t.Errorf("grid got %dx%d expect 15x10", naxisn[0], naxisn[1])
	}
	if !trans.IsIdentity(1e-6) {
		t.Errorf("grid transform got %s expect identity", trans.String())
	}
}

func TestResampleIdentity(t *testing.T) {
	e := newTestExposure(0, []int32{8, 8}, 42)
	ctx := ops.NewContext(io.Discard, 2)
	mosaics, err := Resample([]*fits.Image{e}, Options{WeightType: WeightExptime, InMemory: true}, ctx)
	if err != nil {
		t.Fatalf("Resample: %s", err.Error())
	}
	if len(mosaics) != 1 {
		t.Fatalf("got %d mosaics expect 1", len(mosaics))
	}
	m := mosaics[0]
	if !fits.EqualInt32Slice(m.Naxisn, e.Naxisn) {
		t.Fatalf("grid got %v expect %v", m.Naxisn, e.Naxisn)
	}
	// interior pixels resample exactly; the far edges lack bilinear support
	for y := int32(0); y < 7; y++ {
		for x := int32(0); x < 7; x++ {
			i := y*8 + x
			if m.Image.Data[i] != 42 {
				t.Errorf("pixel %d got %f expect 42", i, m.Image.Data[i])
			}
			if m.Weight[i] <= 0 {
				t.Errorf("pixel %d weight got %f expect >0", i, m.Weight[i])
			}
		}
	}
}

func TestResampleSpillAndMaterialize(t *testing.T) {
	e := newTestExposure(0, []int32{8, 8}, 7)
	ctx := ops.NewContext(io.Discard, 2)
	opt := Options{WeightType: WeightExptime, InMemory: false, TempDir: t.TempDir()}
	mosaics, err := Resample([]*fits.Image{e}, opt, ctx)
	if err != nil {
		t.Fatalf("Resample: %s", err.Error())
	}
	m := mosaics[0]
	if m.Image != nil || m.Weight != nil {
		t.Fatal("spilled mosaic should not hold arrays in memory")
	}
	if err := m.Materialize(io.Discard); err != nil {
		t.Fatalf("Materialize: %s", err.Error())
	}
	if m.Image == nil || m.Weight == nil {
		t.Fatal("materialized mosaic lacks arrays")
	}
	if m.Image.Data[9] != 7 {
		t.Errorf("materialized pixel got %f expect 7", m.Image.Data[9])
	}
	m.Release()
	if m.Image != nil {
		t.Error("released mosaic still holds data")
	}
}

func TestPassthroughSharesData(t *testing.T) {
	e := newTestExposure(0, []int32{4, 4}, 5)
	mosaics, err := Passthrough([]*fits.Image{e}, Options{WeightType: WeightExptime})
	if err != nil {
		t.Fatalf("Passthrough: %s", err.Error())
	}
	m := mosaics[0]
	if m.Resampled {
		t.Error("passthrough mosaic marked as resampled")
	}
	if &m.Image.Data[0] != &e.Data[0] {
		t.Error("passthrough should wrap the exposure data unchanged")
	}
	if m.Weight[0] != 100 {
		t.Errorf("weight got %f expect 100", m.Weight[0])
	}
}

func TestBlotSameGridCopies(t *testing.T) {
	ref := newTestExposure(0, []int32{4, 4}, 3)
	e := newTestExposure(1, []int32{4, 4}, 0)
	out, err := Blot(ref, e)
	if err != nil {
		t.Fatalf("Blot: %s", err.Error())
	}
	if &out[0] == &ref.Data[0] {
		t.Error("blot must not alias the reference data")
	}
	for i, v := range out {
		if v != 3 {
			t.Errorf("pixel %d got %f expect 3", i, v)
		}
	}
}

func TestBlotTranslation(t *testing.T) {
	ref := fits.NewImageFromNaxisn([]int32{8, 8}, nil)
	for i := range ref.Data {
		ref.Data[i] = float32(i)
	}
	e := newTestExposure(1, []int32{8, 8}, 0)
	e.Trans = geom.TranslationTransform2D(2, 0) // native x maps to sky x+2

	out, err := Blot(ref, e)
	if err != nil {
		t.Fatalf("Blot: %s", err.Error())
	}
	// native (1,1) lies at sky (3,1), which is reference pixel 1*8+3
	if out[1*8+1] != ref.Data[1*8+3] {
		t.Errorf("blotted pixel got %f expect %f", out[1*8+1], ref.Data[1*8+3])
	}
	// native (7,0) maps to sky (9,0), outside the reference
	if !math.IsNaN(float64(out[7])) {
		t.Errorf("out of bounds pixel got %f expect NaN", out[7])
	}
}
