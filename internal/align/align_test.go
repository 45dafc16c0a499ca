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

package align

import (
	"testing"

	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/geom"
	"github.com/valyala/fastrand"
)

func syntheticSources(n int, rng *fastrand.RNG) []Source {
	sources := make([]Source, n)
	for i := range sources {
		sources[i] = Source{
			X:    float32(rng.Uint32n(900)) + 50,
			Y:    float32(rng.Uint32n(900)) + 50,
			Mass: float32(1000 - i),
		}
	}
	return sources
}

func TestAlignRecoversTranslation(t *testing.T) {
	rng := fastrand.RNG{}
	rng.Seed(42)
	refSources := syntheticSources(30, &rng)
	want := geom.TranslationTransform2D(12.5, -7.25)

	inv, err := want.Invert()
	if err != nil {
		t.Fatalf("invert: %s", err.Error())
	}
	sources := make([]Source, len(refSources))
	for i, s := range refSources {
		p := inv.Apply(geom.Point2D{X: s.X, Y: s.Y})
		sources[i] = Source{X: p.X, Y: p.Y, Mass: s.Mass}
	}

	naxisn := []int32{1000, 1000}
	aligner := NewAligner(naxisn, refSources, 10)
	trans, residual := aligner.Align(naxisn, sources)

	if residual > 0.5 {
		t.Fatalf("residual %f too large, transform %s", residual, trans.String())
	}
	for _, s := range sources {
		proj := trans.Apply(geom.Point2D{X: s.X, Y: s.Y})
		exp := want.Apply(geom.Point2D{X: s.X, Y: s.Y})
		if d := geom.Dist2D(proj, exp); d > 1.0 {
			t.Errorf("source at (%f,%f) projects to %s, expect %s", s.X, s.Y, proj.String(), exp.String())
		}
	}
}

func TestPickBrightestDistant(t *testing.T) {
	sources := []Source{
		{X: 100, Y: 100, Mass: 10},
		{X: 101, Y: 101, Mass: 9}, // too close to the first
		{X: 500, Y: 500, Mass: 8},
		{X: 100, Y: 500, Mass: 7},
	}
	indices := pickBrightestDistant(sources, 50, 4)
	if len(indices) != 3 {
		t.Fatalf("got %d indices %v, expect 3", len(indices), indices)
	}
	if indices[0] != 0 || indices[1] != 2 || indices[2] != 3 {
		t.Errorf("got indices %v, expect [0 2 3]", indices)
	}
}

func TestDetectSources(t *testing.T) {
	img := fits.NewImageFromNaxisn([]int32{64, 64}, nil)
	for i := range img.Data {
		img.Data[i] = 100
	}
	place := func(x, y int32, peak float32) {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				v := peak
				if dx != 0 || dy != 0 {
					v = peak / 2
				}
				img.Data[(y+dy)*64+(x+dx)] += v
			}
		}
	}
	place(16, 16, 500)
	place(48, 40, 300)

	sources := DetectSources(img, 5, 10)
	if len(sources) != 2 {
		t.Fatalf("got %d sources, expect 2: %v", len(sources), sources)
	}
	if sources[0].Mass < sources[1].Mass {
		t.Error("sources not sorted by descending flux")
	}
	if d := sources[0].X - 16; d > 0.5 || d < -0.5 {
		t.Errorf("brightest source at x=%f, expect 16", sources[0].X)
	}
	if d := sources[0].Y - 16; d > 0.5 || d < -0.5 {
		t.Errorf("brightest source at y=%f, expect 16", sources[0].Y)
	}
}
