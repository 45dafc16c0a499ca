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

// Package detect flags outlier pixels in a set of overlapping exposures by
// comparing each against a median reference image built from the whole set.
package detect

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/mlnoga/skyflag/internal/combine"
	"github.com/mlnoga/skyflag/internal/drizzle"
	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/ops"
)

// File name suffixes for persisted intermediate results
const (
	SuffixMosaic = "outlier_s2d"
	SuffixMedian = "median"
)

// Inserts a suffix into a file path before its extension,
// e.g. lights/frame1.fits with suffix median gives lights/frame1_median.fits
func MakeOutputPath(basePath, suffix string) string {
	ext := path.Ext(basePath)
	lExt := strings.ToLower(ext)
	if lExt == ".gz" || lExt == ".gzip" {
		basePath = basePath[:len(basePath)-len(ext)]
		ext = path.Ext(basePath)
	}
	return basePath[:len(basePath)-len(ext)] + "_" + suffix + ext
}

// A detection run with its configuration and injected collaborators
type Detector struct {
	Config Config

	// Maps an exposure file path and suffix to an output path for
	// persisted intermediates. Defaults to MakeOutputPath
	OutputPath func(basePath, suffix string) string

	// Persists an intermediate image. Defaults to fits.Image.WriteFile.
	// Failures are contained as PersistenceError and the run continues
	Save func(img *fits.Image, fileName string) error

	// Samples the reference image onto an exposure's native grid.
	// Defaults to drizzle.Blot. Failures are contained as ExposureError
	// and the remaining exposures are still processed
	Blot func(reference, exposure *fits.Image) ([]float32, error)

	// Called with the median reference image once it exists, before the
	// per-exposure comparison loop. Optional, used for diagnostic exports
	OnReference func(ref *fits.Image)
}

func NewDetector(cfg Config) *Detector {
	return &Detector{
		Config:     cfg,
		OutputPath: MakeOutputPath,
		Save: func(img *fits.Image, fileName string) error {
			return img.WriteFile(fileName)
		},
		Blot: drizzle.Blot,
	}
}

// Runs outlier detection over the given exposures, mutating only their DQ
// planes. Failures before a reference image exists are fatal; later
// per-exposure failures are contained and reported in the summary
func (d *Detector) Detect(exposures []*fits.Image, ctx *ops.Context) (*RunSummary, error) {
	summary := &RunSummary{
		Exposures:     len(exposures),
		OutlierPixels: make([]int, len(exposures)),
	}
	if err := d.Config.Validate(); err != nil {
		return summary, err
	}
	if len(exposures) == 0 {
		return summary, &ResampleError{Err: fmt.Errorf("no exposures given")}
	}

	opt := drizzle.Options{
		WeightType: d.Config.WeightType,
		GoodBits:   d.Config.GoodBits,
		InMemory:   d.Config.InMemory,
		TempDir:    d.Config.TempDir,
	}

	// Step 1: resample groups onto the common grid, or pass through unchanged
	var mosaics []*drizzle.Mosaic
	var err error
	if d.Config.ResampleData {
		mosaics, err = drizzle.Resample(exposures, opt, ctx)
	} else {
		fmt.Fprintf(ctx.Log, "Resampling disabled, comparing on native grids; "+
			"reference statistics carry fewer members per pixel\n")
		mosaics, err = drizzle.Passthrough(exposures, opt)
	}
	if err != nil {
		return summary, &ResampleError{Err: err}
	}
	defer func() {
		for _, m := range mosaics {
			m.Release()
		}
	}()

	// Step 2: persist mosaics if requested. Only resampled mosaics are saved;
	// passthrough mosaics are the unmodified inputs
	if d.Config.SaveIntermediateResults && d.Config.ResampleData {
		d.saveMosaics(mosaics, exposures, ctx.Log)
	}

	// Step 3: combine mosaics into the median reference image
	for _, m := range mosaics {
		if err := m.Materialize(ctx.Log); err != nil {
			return summary, &CombineError{Err: err}
		}
	}
	reference, err := combine.Medians(mosaics, d.Config.Maskpt, ctx)
	if err != nil {
		return summary, &CombineError{Err: err}
	}
	summary.ReferenceBuilt = true
	if d.OnReference != nil {
		d.OnReference(reference)
	}

	// Step 4: persist the reference image if requested
	if d.Config.SaveIntermediateResults {
		refPath := d.OutputPath(exposures[0].FileName, SuffixMedian)
		if err := d.Save(reference, refPath); err != nil {
			perr := &PersistenceError{Path: refPath, Err: err}
			fmt.Fprintf(ctx.Log, "Warning: %s\n", perr.Error())
		}
	}

	// Step 5: mosaics are no longer needed once the reference exists
	for _, m := range mosaics {
		m.Release()
	}

	// Steps 6-7: per exposure, sample the reference back onto the native grid,
	// compare against the noise model, and flag outliers in the DQ plane
	for i, e := range exposures {
		nativeRef, err := d.Blot(reference, e)
		if err != nil {
			eerr := &ExposureError{ID: e.ID, FileName: e.FileName, Err: err}
			summary.Failures = append(summary.Failures, eerr)
			fmt.Fprintf(ctx.Log, "Warning: %s\n", eerr.Error())
			continue
		}
		mask := Compare(e.Data, nativeRef, e.Naxisn[0], d.Config.SNR, d.Config.Scale, d.Config.Backg)
		newly := FlagDQ(e, mask)
		summary.OutlierPixels[i] = newly
		summary.Flagged++
		fmt.Fprintf(ctx.Log, "%d: flagged %d new outlier pixel(s), %d flagged in total\n",
			e.ID, newly, e.CountDQ(fits.DQOutlier))
	}

	fmt.Fprintf(ctx.Log, "%s\n", summary.String())
	return summary, nil
}

func (d *Detector) saveMosaics(mosaics []*drizzle.Mosaic, exposures []*fits.Image, log io.Writer) {
	byID := map[int]*fits.Image{}
	for _, e := range exposures {
		byID[e.ID] = e
	}
	for _, m := range mosaics {
		if err := m.Materialize(log); err != nil {
			fmt.Fprintf(log, "Warning: materializing mosaic for group %q: %s\n", m.Group, err.Error())
			continue
		}
		base := m.Group
		if e, ok := byID[m.MemberIDs[0]]; ok && e.FileName != "" {
			base = e.FileName
		}
		mosaicPath := d.OutputPath(base, SuffixMosaic)
		if err := d.Save(m.Image, mosaicPath); err != nil {
			perr := &PersistenceError{Path: mosaicPath, Err: err}
			fmt.Fprintf(log, "Warning: %s\n", perr.Error())
		}
	}
}
