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

// Package drizzle resamples groups of exposures onto a common output grid,
// producing per-group mosaics with propagated pixel weights, and samples
// reference images back onto native exposure grids.
package drizzle

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/geom"
	"github.com/mlnoga/skyflag/internal/ops"
)

// Options for resampling exposures into mosaics
type Options struct {
	WeightType string // exptime, expsq or ivm
	GoodBits   int32  // DQ bits which do not disqualify a pixel
	InMemory   bool   // if false, mosaics are spilled to temporary files
	TempDir    string // directory for spilled mosaics, empty for the OS default
}

// A mosaic of one observation group on the common output grid, or a single
// exposure passed through unchanged when resampling is disabled.
type Mosaic struct {
	Image     *fits.Image // data on the output grid; nil while spilled to disk
	Weight    []float32   // per-pixel summed weights; nil while spilled to disk
	Naxisn    []int32     // output grid dimensions
	Trans     geom.Transform2D // output grid to sky frame
	Group     string      // observation group identifier
	MemberIDs []int       // IDs of the member exposures
	Resampled bool        // false for passthrough mosaics

	dataPath   string // temp file holding the data while spilled
	weightPath string // temp file holding the weights while spilled
}

// Spills the mosaic to temporary files and frees its in-memory arrays.
// Passthrough mosaics share their exposure's arrays and are never spilled
func (m *Mosaic) Spill(tempDir string) error {
	if !m.Resampled || m.dataPath != "" {
		return nil
	}
	dataFile, err := os.CreateTemp(tempDir, "mosaic_*_s2d.fits")
	if err != nil {
		return err
	}
	defer dataFile.Close()
	if err := m.Image.Write(dataFile); err != nil {
		os.Remove(dataFile.Name())
		return err
	}

	weightImg := fits.NewImageFromNaxisn(m.Naxisn, m.Weight)
	weightFile, err := os.CreateTemp(tempDir, "mosaic_*_wht.fits")
	if err != nil {
		os.Remove(dataFile.Name())
		return err
	}
	defer weightFile.Close()
	if err := weightImg.Write(weightFile); err != nil {
		os.Remove(dataFile.Name())
		os.Remove(weightFile.Name())
		return err
	}

	m.dataPath, m.weightPath = dataFile.Name(), weightFile.Name()
	m.Image, m.Weight = nil, nil
	return nil
}

// Loads a spilled mosaic back into memory, keeping the temp files for reuse
func (m *Mosaic) Materialize(logWriter io.Writer) error {
	if m.Image != nil {
		return nil
	}
	img, err := fits.NewImageFromFile(m.dataPath, m.MemberIDs[0], logWriter)
	if err != nil {
		return err
	}
	weightImg, err := fits.NewImageFromFile(m.weightPath, m.MemberIDs[0], logWriter)
	if err != nil {
		return err
	}
	img.Trans = m.Trans
	m.Image, m.Weight = img, weightImg.Data
	return nil
}

// Releases the mosaic's memory and removes its temp files, if any
func (m *Mosaic) Release() {
	m.Image, m.Weight = nil, nil
	if m.dataPath != "" {
		os.Remove(m.dataPath)
		m.dataPath = ""
	}
	if m.weightPath != "" {
		os.Remove(m.weightPath)
		m.weightPath = ""
	}
}

// Groups exposures by their observation group header, preserving input order.
// Ungrouped exposures form one group each
func GroupExposures(exposures []*fits.Image) [][]*fits.Image {
	groups := [][]*fits.Image{}
	index := map[string]int{}
	for _, e := range exposures {
		if e.ObsGroup == "" {
			groups = append(groups, []*fits.Image{e})
			continue
		}
		if g, ok := index[e.ObsGroup]; ok {
			groups[g] = append(groups[g], e)
		} else {
			index[e.ObsGroup] = len(groups)
			groups = append(groups, []*fits.Image{e})
		}
	}
	return groups
}

// Computes the common output grid over all exposures as the bounding box of
// their transformed corner points. Returns the grid dimensions and the
// transformation from grid to sky frame
func CommonGrid(exposures []*fits.Image) (naxisn []int32, trans geom.Transform2D, err error) {
	minX, minY := float32(math.MaxFloat32), float32(math.MaxFloat32)
	maxX, maxY := float32(-math.MaxFloat32), float32(-math.MaxFloat32)
	for _, e := range exposures {
		w, h := float32(e.Naxisn[0]-1), float32(e.Naxisn[1]-1)
		corners := [4]geom.Point2D{{X: 0, Y: 0}, {X: w, Y: 0}, {X: 0, Y: h}, {X: w, Y: h}}
		for _, c := range corners {
			p := e.Trans.Apply(c)
			if math.IsNaN(float64(p.X)) || math.IsNaN(float64(p.Y)) {
				return nil, geom.Transform2D{}, fmt.Errorf("%d: transform maps corner %s to NaN", e.ID, c.String())
			}
			if p.X < minX {
				minX = p.X
			}
			if p.X > maxX {
				maxX = p.X
			}
			if p.Y < minY {
				minY = p.Y
			}
			if p.Y > maxY {
				maxY = p.Y
			}
		}
	}

	width := int32(math.Ceil(float64(maxX-minX))) + 1
	height := int32(math.Ceil(float64(maxY-minY))) + 1
	if width <= 0 || height <= 0 {
		return nil, geom.Transform2D{}, fmt.Errorf("degenerate output grid %dx%d", width, height)
	}
	return []int32{width, height}, geom.TranslationTransform2D(minX, minY), nil
}

// Resamples exposures onto the common output grid, one mosaic per observation
// group. Member flux is accumulated weighted by the exposure's weight map;
// grid pixels without any contributing weight are NaN
func Resample(exposures []*fits.Image, opt Options, ctx *ops.Context) ([]*Mosaic, error) {
	if len(exposures) == 0 {
		return nil, fmt.Errorf("no exposures to resample")
	}
	gridNaxisn, gridTrans, err := CommonGrid(exposures)
	if err != nil {
		return nil, err
	}
	skyToGrid, err := gridTrans.Invert()
	if err != nil {
		return nil, fmt.Errorf("output grid transform: %s", err.Error())
	}
	fmt.Fprintf(ctx.Log, "Resampling %d exposure(s) onto common grid %dx%d\n",
		len(exposures), gridNaxisn[0], gridNaxisn[1])

	groups := GroupExposures(exposures)
	mosaics := make([]*Mosaic, len(groups))
	for g, group := range groups {
		m, err := resampleGroup(group, gridNaxisn, gridTrans, skyToGrid, opt, ctx)
		if err != nil {
			for _, built := range mosaics[:g] {
				built.Release()
			}
			return nil, err
		}
		mosaics[g] = m
	}
	return mosaics, nil
}

func resampleGroup(group []*fits.Image, gridNaxisn []int32, gridTrans geom.Transform2D,
	skyToGrid geom.Transform2D, opt Options, ctx *ops.Context) (*Mosaic, error) {

	pixels := gridNaxisn[0] * gridNaxisn[1]
	weightedSum := make([]float32, pixels)
	weightSum := make([]float32, pixels)
	memberIDs := make([]int, len(group))

	for i, e := range group {
		memberIDs[i] = e.ID
		weight, err := BuildWeight(e, opt.WeightType, opt.GoodBits)
		if err != nil {
			return nil, err
		}

		nativeToGrid := e.Trans.Compose(skyToGrid)
		projData, err := e.Project(gridNaxisn, nativeToGrid, float32(math.NaN()))
		if err != nil {
			return nil, fmt.Errorf("%d: %s", e.ID, err.Error())
		}
		weightImg := fits.NewImageFromNaxisn(e.Naxisn, weight)
		projWeight, err := weightImg.Project(gridNaxisn, nativeToGrid, 0)
		if err != nil {
			return nil, fmt.Errorf("%d: %s", e.ID, err.Error())
		}

		for j, w := range projWeight.Data {
			d := projData.Data[j]
			if w <= 0 || math.IsNaN(float64(d)) || math.IsNaN(float64(w)) {
				continue
			}
			weightedSum[j] += w * d
			weightSum[j] += w
		}
	}

	data := make([]float32, pixels)
	nan := float32(math.NaN())
	for j := range data {
		if weightSum[j] > 0 {
			data[j] = weightedSum[j] / weightSum[j]
		} else {
			data[j] = nan
		}
	}

	img := fits.NewImageFromNaxisn(gridNaxisn, data)
	img.ID, img.ObsGroup, img.Trans = group[0].ID, group[0].ObsGroup, gridTrans
	m := &Mosaic{
		Image:     img,
		Weight:    weightSum,
		Naxisn:    append([]int32(nil), gridNaxisn...),
		Trans:     gridTrans,
		Group:     group[0].ObsGroup,
		MemberIDs: memberIDs,
		Resampled: true,
	}
	if !opt.InMemory {
		if err := m.Spill(opt.TempDir); err != nil {
			return nil, fmt.Errorf("spilling mosaic for group %q: %s", m.Group, err.Error())
		}
	}
	return m, nil
}

// Wraps single exposures as passthrough mosaics on their native grids,
// with freshly built weight maps. Used when resampling is disabled
func Passthrough(exposures []*fits.Image, opt Options) ([]*Mosaic, error) {
	if len(exposures) == 0 {
		return nil, fmt.Errorf("no exposures to pass through")
	}
	mosaics := make([]*Mosaic, len(exposures))
	for i, e := range exposures {
		weight, err := BuildWeight(e, opt.WeightType, opt.GoodBits)
		if err != nil {
			return nil, err
		}
		mosaics[i] = &Mosaic{
			Image:     e,
			Weight:    weight,
			Naxisn:    append([]int32(nil), e.Naxisn...),
			Trans:     e.Trans,
			Group:     e.ObsGroup,
			MemberIDs: []int{e.ID},
			Resampled: false,
		}
	}
	return mosaics, nil
}
