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

// Package combine builds a robust reference image from a stack of mosaics by
// weight-thresholded per-pixel median combination.
package combine

import (
	"fmt"
	"math"
	"sync"

	"github.com/mlnoga/skyflag/internal/drizzle"
	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/ops"
	"github.com/mlnoga/skyflag/internal/qsort"
)

// Combines mosaics into a single reference image by per-pixel median.
// Per pixel, the reference weight is the median of the members' non-zero
// weights; members whose weight falls below maskpt times the reference weight
// are excluded, as are NaN members. Pixels without any surviving member are
// NaN. The result inherits the grid shape and transform of the mosaics
func Medians(mosaics []*drizzle.Mosaic, maskpt float32, ctx *ops.Context) (*fits.Image, error) {
	if len(mosaics) == 0 {
		return nil, fmt.Errorf("no mosaics to combine")
	}
	if maskpt <= 0 || maskpt > 1 {
		return nil, fmt.Errorf("maskpt %f outside (0,1]", maskpt)
	}
	naxisn := mosaics[0].Naxisn
	for _, m := range mosaics[1:] {
		if !fits.EqualInt32Slice(m.Naxisn, naxisn) {
			return nil, fmt.Errorf("mosaic grids differ: %v vs %v", m.Naxisn, naxisn)
		}
		if m.Trans != mosaics[0].Trans {
			return nil, fmt.Errorf("mosaic grid transforms differ: %s vs %s",
				m.Trans.String(), mosaics[0].Trans.String())
		}
	}
	for _, m := range mosaics {
		if m.Image == nil || m.Weight == nil {
			return nil, fmt.Errorf("mosaic for group %q is not materialized", m.Group)
		}
	}

	pixels := int(naxisn[0]) * int(naxisn[1])
	res := fits.NewImageFromNaxisn(naxisn, nil)
	res.Trans = mosaics[0].Trans

	// Split into batches to limit per-goroutine scratch memory, cap concurrency
	// with a semaphore channel
	batchSize := batchSizePixels(pixels, len(mosaics), ctx)
	numBatches := (pixels + batchSize - 1) / batchSize
	limiter := make(chan bool, ctx.MaxThreads)
	wg := sync.WaitGroup{}
	for b := 0; b < numBatches; b++ {
		lo := b * batchSize
		hi := lo + batchSize
		if hi > pixels {
			hi = pixels
		}
		wg.Add(1)
		limiter <- true
		go func(lo, hi int) {
			defer wg.Done()
			defer func() { <-limiter }()
			combineBatch(mosaics, maskpt, res.Data, lo, hi)
		}(lo, hi)
	}
	wg.Wait()

	fmt.Fprintf(ctx.Log, "Combined %d mosaic(s) into %dx%d reference image\n",
		len(mosaics), naxisn[0], naxisn[1])
	return res, nil
}

// Sizes pixel batches from the physical memory budget, capping scratch
// buffers at 8 MB per worker while keeping all workers busy on small inputs
func batchSizePixels(pixels, stackDepth int, ctx *ops.Context) int {
	budgetBytes := (ctx.MemoryMB << 20) / (16 * ctx.MaxThreads)
	if maxBytes := 8 << 20; budgetBytes > maxBytes || budgetBytes <= 0 {
		budgetBytes = maxBytes
	}
	batch := budgetBytes / (4 * stackDepth)
	if minBatch := 1024; batch < minBatch {
		batch = minBatch
	}
	if spread := (pixels + ctx.MaxThreads - 1) / ctx.MaxThreads; batch > spread && spread > 0 {
		batch = spread
	}
	if batch < 1 {
		batch = 1
	}
	return batch
}

func combineBatch(mosaics []*drizzle.Mosaic, maskpt float32, out []float32, lo, hi int) {
	weights := make([]float32, 0, len(mosaics))
	values := make([]float32, 0, len(mosaics))
	nan := float32(math.NaN())

	for i := lo; i < hi; i++ {
		weights = weights[:0]
		for _, m := range mosaics {
			if w := m.Weight[i]; w > 0 {
				weights = append(weights, w)
			}
		}
		if len(weights) == 0 {
			out[i] = nan
			continue
		}
		refWeight := qsort.QSelectMedianFloat32(weights)
		threshold := maskpt * refWeight

		values = values[:0]
		for _, m := range mosaics {
			if m.Weight[i] < threshold || m.Weight[i] <= 0 {
				continue
			}
			if v := m.Image.Data[i]; !math.IsNaN(float64(v)) {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			out[i] = nan
			continue
		}
		out[i] = qsort.QSelectMedianFloat32(values)
	}
}
