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
	"io"
	"strings"
	"testing"

	"github.com/mlnoga/skyflag/internal/drizzle"
	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/ops"
)

func newFlatExposure(id int, naxisn []int32, value float32) *fits.Image {
	img := fits.NewImageFromNaxisn(naxisn, nil)
	img.ID = id
	img.FileName = fmt.Sprintf("frame%d.fits", id)
	img.Exposure = 100
	for i := range img.Data {
		img.Data[i] = value
	}
	return img
}

func testCtx() *ops.Context {
	return ops.NewContext(io.Discard, 2)
}

// Four identical exposures, maskpt 0.3, snr (5,4), scale (1,0), backg 0,
// one contaminated pixel in one exposure
func TestDetectSingleContaminatedExposure(t *testing.T) {
	naxisn := []int32{16, 16}
	exposures := make([]*fits.Image, 4)
	for i := range exposures {
		exposures[i] = newFlatExposure(i, naxisn, 100)
	}
	spike := int32(8)*16 + 8
	exposures[2].Data[spike] = 1100

	cfg := NewConfig()
	cfg.ResampleData = false
	cfg.WeightType = "exptime"
	cfg.Maskpt = 0.3
	cfg.SNR = [2]float32{5, 4}
	cfg.Scale = [2]float32{1, 0}
	cfg.Backg = 0

	summary, err := NewDetector(cfg).Detect(exposures, testCtx())
	if err != nil {
		t.Fatalf("Detect: %s", err.Error())
	}
	if !summary.ReferenceBuilt || summary.Flagged != 4 {
		t.Fatalf("summary %s, expect reference built and 4 flagged", summary.String())
	}
	for i, e := range exposures {
		want := 0
		if i == 2 {
			want = 1
		}
		if summary.OutlierPixels[i] != want {
			t.Errorf("exposure %d: %d outliers, expect %d", i, summary.OutlierPixels[i], want)
		}
		for j, dq := range e.DQ {
			if i == 2 && int32(j) == spike {
				if dq != fits.DQOutlier|fits.DQDoNotUse {
					t.Errorf("contaminated pixel DQ got %d", dq)
				}
			} else if dq != 0 {
				t.Errorf("exposure %d pixel %d DQ got %d expect 0", i, j, dq)
			}
		}
	}
}

func TestDetectIdenticalStackNoFlags(t *testing.T) {
	naxisn := []int32{16, 16}
	exposures := make([]*fits.Image, 3)
	for i := range exposures {
		exposures[i] = newFlatExposure(i, naxisn, 100)
		for j := range exposures[i].Data {
			exposures[i].Data[j] = float32(j%7) * 10 // identical structure in every frame
		}
	}

	cfg := NewConfig()
	cfg.ResampleData = false
	cfg.WeightType = "exptime"
	cfg.Scale = [2]float32{1, 0}

	summary, err := NewDetector(cfg).Detect(exposures, testCtx())
	if err != nil {
		t.Fatalf("Detect: %s", err.Error())
	}
	for i, n := range summary.OutlierPixels {
		if n != 0 {
			t.Errorf("exposure %d: %d outliers on an identical noise-free stack", i, n)
		}
	}
}

func TestDetectResampledStackFlagsSpike(t *testing.T) {
	naxisn := []int32{16, 16}
	exposures := make([]*fits.Image, 4)
	for i := range exposures {
		exposures[i] = newFlatExposure(i, naxisn, 100)
	}
	spike := int32(8)*16 + 8
	exposures[1].Data[spike] = 1100

	cfg := NewConfig()
	cfg.WeightType = "exptime"
	cfg.Scale = [2]float32{1, 0}

	summary, err := NewDetector(cfg).Detect(exposures, testCtx())
	if err != nil {
		t.Fatalf("Detect: %s", err.Error())
	}
	if summary.OutlierPixels[1] != 1 {
		t.Errorf("contaminated exposure: %d outliers, expect 1", summary.OutlierPixels[1])
	}
	for i := range exposures {
		if i != 1 && summary.OutlierPixels[i] != 0 {
			t.Errorf("clean exposure %d: %d outliers", i, summary.OutlierPixels[i])
		}
	}
}

func TestDetectZeroWeightPixelNeverFlagged(t *testing.T) {
	naxisn := []int32{8, 8}
	exposures := make([]*fits.Image, 3)
	dead := int32(3)*8 + 3
	for i := range exposures {
		exposures[i] = newFlatExposure(i, naxisn, 100)
		exposures[i].EnsureDQ()
		exposures[i].DQ[dead] = fits.DQDoNotUse
	}
	// wildly deviant data at the dead pixel must not matter
	exposures[0].Data[dead] = 1e9

	cfg := NewConfig()
	cfg.ResampleData = false
	cfg.WeightType = "exptime"
	cfg.GoodBits = 0
	cfg.Scale = [2]float32{1, 0}

	summary, err := NewDetector(cfg).Detect(exposures, testCtx())
	if err != nil {
		t.Fatalf("Detect: %s", err.Error())
	}
	for i, e := range exposures {
		if summary.OutlierPixels[i] != 0 {
			t.Errorf("exposure %d: %d outliers, zero-weight pixel must not be flagged", i, summary.OutlierPixels[i])
		}
		if e.DQ[dead]&fits.DQOutlier != 0 {
			t.Errorf("exposure %d: dead pixel marked as outlier", i)
		}
	}
}

func TestDetectConfigValidation(t *testing.T) {
	cfg := NewConfig()
	cfg.WeightType = "bogus"
	_, err := NewDetector(cfg).Detect([]*fits.Image{newFlatExposure(0, []int32{4, 4}, 1)}, testCtx())
	if err == nil {
		t.Fatal("expect config error")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("got %T, expect *ConfigError", err)
	}

	cfg = NewConfig()
	cfg.Maskpt = 0
	if err := cfg.Validate(); err == nil {
		t.Error("maskpt 0 should fail validation")
	}
	cfg = NewConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %s", err.Error())
	}
}

func TestDetectSaveIntermediateResults(t *testing.T) {
	naxisn := []int32{8, 8}
	exposures := []*fits.Image{
		newFlatExposure(0, naxisn, 100),
		newFlatExposure(1, naxisn, 100),
	}
	cfg := NewConfig()
	cfg.WeightType = "exptime"
	cfg.Scale = [2]float32{1, 0}
	cfg.SaveIntermediateResults = true

	saved := []string{}
	d := NewDetector(cfg)
	d.Save = func(img *fits.Image, fileName string) error {
		saved = append(saved, fileName)
		return nil
	}

	if _, err := d.Detect(exposures, testCtx()); err != nil {
		t.Fatalf("Detect: %s", err.Error())
	}
	mosaics, medians := 0, 0
	for _, p := range saved {
		if strings.Contains(p, "_"+SuffixMosaic) {
			mosaics++
		}
		if strings.Contains(p, "_"+SuffixMedian) {
			medians++
		}
	}
	if mosaics != 2 {
		t.Errorf("saved %d mosaics expect 2: %v", mosaics, saved)
	}
	if medians != 1 {
		t.Errorf("saved %d median images expect 1: %v", medians, saved)
	}
}

func TestDetectExposureFailureIsContained(t *testing.T) {
	naxisn := []int32{8, 8}
	exposures := make([]*fits.Image, 3)
	for i := range exposures {
		exposures[i] = newFlatExposure(i, naxisn, 100)
	}
	spike := int32(2)*8 + 2
	exposures[2].Data[spike] = 1100

	cfg := NewConfig()
	cfg.ResampleData = false
	cfg.WeightType = "exptime"
	cfg.Scale = [2]float32{1, 0}

	d := NewDetector(cfg)
	d.Blot = func(reference, exposure *fits.Image) ([]float32, error) {
		if exposure.ID == 1 {
			return nil, fmt.Errorf("grid transform is singular")
		}
		return drizzle.Blot(reference, exposure)
	}

	summary, err := d.Detect(exposures, testCtx())
	if err != nil {
		t.Fatalf("contained exposure failure must not abort the run: %s", err.Error())
	}
	if !summary.ReferenceBuilt || summary.Flagged != 2 {
		t.Errorf("summary %s, expect reference built and 2 of 3 flagged", summary.String())
	}
	if len(summary.Failures) != 1 || summary.Failures[0].ID != 1 {
		t.Fatalf("failures %v, expect exactly one for exposure 1", summary.Failures)
	}
	if summary.OutlierPixels[1] != 0 {
		t.Errorf("failed exposure reports %d outliers, expect 0", summary.OutlierPixels[1])
	}
	if summary.OutlierPixels[2] != 1 {
		t.Errorf("contaminated exposure: %d outliers, expect 1", summary.OutlierPixels[2])
	}
	if exposures[1].DQ != nil {
		for j, dq := range exposures[1].DQ {
			if dq != 0 {
				t.Errorf("failed exposure pixel %d DQ got %d expect untouched", j, dq)
			}
		}
	}
}

func TestDetectPersistenceFailureIsContained(t *testing.T) {
	exposures := []*fits.Image{
		newFlatExposure(0, []int32{8, 8}, 100),
		newFlatExposure(1, []int32{8, 8}, 100),
	}
	cfg := NewConfig()
	cfg.WeightType = "exptime"
	cfg.Scale = [2]float32{1, 0}
	cfg.SaveIntermediateResults = true

	d := NewDetector(cfg)
	d.Save = func(img *fits.Image, fileName string) error {
		return fmt.Errorf("disk full")
	}

	summary, err := d.Detect(exposures, testCtx())
	if err != nil {
		t.Fatalf("persistence failure must not abort the run: %s", err.Error())
	}
	if !summary.ReferenceBuilt || summary.Flagged != 2 {
		t.Errorf("summary %s, expect full run despite persistence failures", summary.String())
	}
}

func TestMakeOutputPath(t *testing.T) {
	cases := [][3]string{
		{"lights/frame1.fits", SuffixMedian, "lights/frame1_median.fits"},
		{"frame1.fits.gz", SuffixMosaic, "frame1_outlier_s2d.fits"},
		{"a/b.fit", "x", "a/b_x.fit"},
	}
	for _, c := range cases {
		if got := MakeOutputPath(c[0], c[1]); got != c[2] {
			t.Errorf("MakeOutputPath(%q,%q) got %q expect %q", c[0], c[1], got, c[2])
		}
	}
}
