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
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/mlnoga/skyflag/internal/geom"
)

func TestWriteReadRoundTrip(t *testing.T) {
	img := NewImageFromNaxisn([]int32{4, 3}, nil)
	for i := range img.Data {
		img.Data[i] = float32(i) * 1.5
	}
	img.Data[5] = float32(math.NaN())
	img.Exposure = 300
	img.ObsGroup = "visit1"
	img.Trans = geom.TranslationTransform2D(2.5, -1.5)

	fileName := filepath.Join(t.TempDir(), "frame.fits")
	if err := img.WriteFile(fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}

	read, err := NewImageFromFile(fileName, 0, io.Discard)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if !EqualInt32Slice(read.Naxisn, img.Naxisn) {
		t.Fatalf("dimensions got %s expect %s", read.DimensionsToString(), img.DimensionsToString())
	}
	if read.Exposure != img.Exposure {
		t.Errorf("exposure got %f expect %f", read.Exposure, img.Exposure)
	}
	if read.ObsGroup != img.ObsGroup {
		t.Errorf("obs group got %q expect %q", read.ObsGroup, img.ObsGroup)
	}
	if read.Trans.C != 2.5 || read.Trans.F != -1.5 {
		t.Errorf("transform got %s expect %s", read.Trans.String(), img.Trans.String())
	}
	for i, v := range read.Data {
		expect := img.Data[i]
		if math.IsNaN(float64(expect)) {
			if !math.IsNaN(float64(v)) {
				t.Errorf("pixel %d got %f expect NaN", i, v)
			}
		} else if v != expect {
			t.Errorf("pixel %d got %f expect %f", i, v, expect)
		}
	}
}

func TestDQSiblingFileName(t *testing.T) {
	cases := [][2]string{
		{"lights/frame1.fits", "lights/frame1_dq.fits"},
		{"frame1.fits.gz", "frame1_dq.fits"},
		{"a/b/c.fit", "a/b/c_dq.fit"},
	}
	for _, c := range cases {
		if got := DQSiblingFileName(c[0]); got != c[1] {
			t.Errorf("sibling of %s got %s expect %s", c[0], got, c[1])
		}
	}
}

func TestDQWriteReadRoundTrip(t *testing.T) {
	img := NewImageFromNaxisn([]int32{4, 4}, nil)
	img.EnsureDQ()
	img.DQ[3] = DQDoNotUse
	img.DQ[7] = DQOutlier
	img.DQ[9] = DQDoNotUse | DQOutlier

	dir := t.TempDir()
	img.FileName = filepath.Join(dir, "frame.fits")
	if err := img.WriteFile(img.FileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}
	if err := img.WriteDQFile(); err != nil {
		t.Fatalf("write DQ: %s", err.Error())
	}

	read, err := NewImageFromFile(img.FileName, 0, io.Discard)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if err := read.ReadDQFile(io.Discard); err != nil {
		t.Fatalf("read DQ: %s", err.Error())
	}
	if read.DQ == nil {
		t.Fatal("expect DQ plane after reading sibling")
	}
	for i, dq := range read.DQ {
		if dq != img.DQ[i] {
			t.Errorf("DQ %d got %d expect %d", i, dq, img.DQ[i])
		}
	}
}

func TestReadDQFileMissingSibling(t *testing.T) {
	img := NewImageFromNaxisn([]int32{2, 2}, nil)
	img.FileName = filepath.Join(t.TempDir(), "frame.fits")
	if err := img.ReadDQFile(io.Discard); err != nil {
		t.Fatalf("missing sibling should not error, got %s", err.Error())
	}
	if img.DQ != nil {
		t.Error("missing sibling should leave DQ nil")
	}
}

func TestMaskBadPixels(t *testing.T) {
	img := NewImageFromNaxisn([]int32{2, 2}, []float32{1, 2, 3, 4})
	img.DQ = []int32{0, DQDoNotUse, 4, DQOutlier}

	img.MaskBadPixels(4) // bit 4 is good, do-not-use and outlier are not
	if img.Data[0] != 1 || img.Data[2] != 3 {
		t.Errorf("good pixels modified: %v", img.Data)
	}
	if !math.IsNaN(float64(img.Data[1])) || !math.IsNaN(float64(img.Data[3])) {
		t.Errorf("bad pixels not masked: %v", img.Data)
	}
}

func TestProjectIdentity(t *testing.T) {
	img := NewImageFromNaxisn([]int32{4, 4}, nil)
	for i := range img.Data {
		img.Data[i] = float32(i)
	}
	res, err := img.Project(img.Naxisn, geom.IdentityTransform2D(), float32(math.NaN()))
	if err != nil {
		t.Fatalf("project: %s", err.Error())
	}
	// interior pixels are interpolated exactly; the far edges fall out of bounds
	for y := int32(0); y < 3; y++ {
		for x := int32(0); x < 3; x++ {
			i := y*4 + x
			if res.Data[i] != img.Data[i] {
				t.Errorf("pixel %d got %f expect %f", i, res.Data[i], img.Data[i])
			}
		}
	}
}

func TestProjectTranslation(t *testing.T) {
	img := NewImageFromNaxisn([]int32{4, 4}, nil)
	for i := range img.Data {
		img.Data[i] = float32(i)
	}
	res, err := img.Project(img.Naxisn, geom.TranslationTransform2D(1, 0), float32(math.NaN()))
	if err != nil {
		t.Fatalf("project: %s", err.Error())
	}
	// dest (1,0) samples source (0,0); dest (0,0) falls outside the source
	if res.Data[1] != img.Data[0] {
		t.Errorf("shifted pixel got %f expect %f", res.Data[1], img.Data[0])
	}
	if !math.IsNaN(float64(res.Data[0])) {
		t.Errorf("out of bounds pixel got %f expect NaN", res.Data[0])
	}
}
