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

// Package align estimates affine transformations between exposures from the
// positions of bright sources, for inputs which do not carry a stored
// transformation to the reference grid.
package align

import (
	"math"
	"sort"

	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/geom"
	"github.com/mlnoga/skyflag/internal/stats"
	"gonum.org/v1/gonum/optimize"
)

// A point source detection with center of mass coordinates and total flux
type Source struct {
	X    float32
	Y    float32
	Mass float32
}

// A triangle representing the distances between three sources, which are
// translation and rotation invariant. Also stores the source indices for
// later processing steps
type Triangle struct {
	DistAB float32
	DistAC float32
	DistBC float32
	A      int32
	B      int32
	C      int32
}

// A candidate match between a triangle and a reference triangle, with distance between them
type Match struct {
	Dist        float32
	TriIndex    int32
	RefTriIndex int32
}

const minDistanceForAlignmentSources float32 = 1.0 / 20.0

// Detects bright point sources in the image. Pixels must exceed the background
// by sigmas times a robust noise estimate, and be a local maximum in their 3x3
// neighborhood. Returns sources sorted by descending flux
func DetectSources(img *fits.Image, sigmas float32, maxSources int) []Source {
	width := img.Naxisn[0]
	height := int32(len(img.Data)) / width
	data := img.Data

	samples := make([]float32, 4096)
	if len(data) < len(samples) {
		samples = samples[:len(data)]
	}
	background := stats.FastApproxMedian(data, samples)
	noise := stats.FastApproxMAD(data, background, samples)
	threshold := background + sigmas*noise

	sources := []Source{}
	for y := int32(1); y < height-1; y++ {
		for x := int32(1); x < width-1; x++ {
			i := y*width + x
			v := data[i]
			if !(v > threshold) { // NaN fails this comparison as well
				continue
			}
			if v < data[i-1] || v < data[i+1] ||
				v < data[i-width-1] || v < data[i-width] || v < data[i-width+1] ||
				v < data[i+width-1] || v < data[i+width] || v < data[i+width+1] {
				continue
			}

			// center of mass over the 3x3 neighborhood, above background
			mass, mx, my := float32(0), float32(0), float32(0)
			for dy := int32(-1); dy <= 1; dy++ {
				for dx := int32(-1); dx <= 1; dx++ {
					d := data[i+dy*width+dx] - background
					if math.IsNaN(float64(d)) || d < 0 {
						continue
					}
					mass += d
					mx += d * float32(x+dx)
					my += d * float32(y+dy)
				}
			}
			if mass <= 0 {
				continue
			}
			sources = append(sources, Source{X: mx / mass, Y: my / mass, Mass: mass})
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Mass > sources[j].Mass })
	if len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	return sources
}

// A source aligner
type Aligner struct {
	Naxisn       []int32    // Size of the reference grid we are aligning to
	RefSources   []Source   // The reference sources this aligner uses
	RefTriangles []Triangle // Reference triangles built from the above, using the k constant
	K            int32      // Consider top k brightest sources for building triangles
}

// Creates a new aligner from the given reference sources and priming constant k
func NewAligner(naxisn []int32, refSources []Source, k int32) *Aligner {
	minLength := float32(naxisn[1]) * minDistanceForAlignmentSources
	indices := pickBrightestDistant(refSources, minLength, k)
	tris := generateTriangles(refSources, indices, 1.0)
	return &Aligner{naxisn, refSources, tris, k}
}

// Calculates the transformation from the given sources to the reference sources
func (a *Aligner) Align(naxisn []int32, sources []Source) (trans geom.Transform2D, residual float32) {
	minLength := float32(a.Naxisn[1]) * minDistanceForAlignmentSources
	indices := pickBrightestDistant(sources, minLength, a.K)
	triangles := generateTriangles(sources, indices, float32(a.Naxisn[0])/float32(naxisn[0]))
	matches := a.closestTriangleMatches(triangles)
	return a.findBestMatch(matches, triangles, sources)
}

// Selects the k brightest sources, skipping those closer than limit to an
// already selected source. Returns indices into sources
func pickBrightestDistant(sources []Source, minLength float32, k int32) (indices []int) {
	indices = make([]int, k)
	i := 0
	s := 0
outer:
	for ; i < len(indices) && s < len(sources); s++ {
		srcA := sources[s]
		for j := 0; j < i; j++ {
			srcB := sources[indices[j]]
			dAB := geom.Dist2D(geom.Point2D{X: srcA.X, Y: srcA.Y}, geom.Point2D{X: srcB.X, Y: srcB.Y})
			if dAB < minLength {
				continue outer
			}
		}
		indices[i] = s
		i++
	}
	return indices[0:i]
}

// Generates all triangles with ordered side lengths from the list of brightest
// source indices provided. This is O(K^3), acceptable for small k
func generateTriangles(sources []Source, indices []int, scaleFactor float32) []Triangle {
	tris := []Triangle{}
	for _, a := range indices {
		srcA := sources[a]
		for _, b := range indices {
			if a == b {
				continue
			}
			srcB := sources[b]
			dAB := geom.Dist2D(geom.Point2D{X: srcA.X * scaleFactor, Y: srcA.Y * scaleFactor},
				geom.Point2D{X: srcB.X * scaleFactor, Y: srcB.Y * scaleFactor})
			for _, c := range indices {
				if a == c || b == c {
					continue
				}
				srcC := sources[c]
				dAC := geom.Dist2D(geom.Point2D{X: srcA.X * scaleFactor, Y: srcA.Y * scaleFactor},
					geom.Point2D{X: srcC.X * scaleFactor, Y: srcC.Y * scaleFactor})
				dBC := geom.Dist2D(geom.Point2D{X: srcB.X * scaleFactor, Y: srcB.Y * scaleFactor},
					geom.Point2D{X: srcC.X * scaleFactor, Y: srcC.Y * scaleFactor})

				if dAB < dAC && dAC < dBC {
					tris = append(tris, Triangle{dAB, dAC, dBC, int32(a), int32(b), int32(c)})
				}
			}
		}
	}
	return tris
}

// Finds the closest matches between the given triangles and the reference triangles
func (a *Aligner) closestTriangleMatches(triangles []Triangle) (matches []Match) {
	matches = make([]Match, 0, len(triangles))
	for i, tri := range triangles {
		bestDist, bestRef := float32(math.MaxFloat32), int32(-1)
		for j, ref := range a.RefTriangles {
			dAB, dAC, dBC := tri.DistAB-ref.DistAB, tri.DistAC-ref.DistAC, tri.DistBC-ref.DistBC
			d := dAB*dAB + dAC*dAC + dBC*dBC
			if d < bestDist {
				bestDist, bestRef = d, int32(j)
			}
		}
		if bestRef >= 0 {
			matches = append(matches, Match{bestDist, int32(i), bestRef})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Dist < matches[j].Dist
	})

	k := a.K
	if k > int32(len(matches)) {
		k = int32(len(matches))
	}
	return matches[:k]
}

func (a *Aligner) findBestMatch(matches []Match, triangles []Triangle, sources []Source) (trans geom.Transform2D, residual float32) {
	bestTrans := geom.Transform2D{}
	bestResidualError := float32(math.MaxFloat32)
	refTriangles, refSources := a.RefTriangles, a.RefSources

	distSquaredLimit := float32(8.0 * 8.0)       // Distance limit to consider a source a match
	earlyAbortForResidualError := float32(0.01)  // Stop further search if a global match closer than this is found

	for _, match := range matches {
		// Build initial transformation based on the triples of sources in the match
		tri := triangles[match.TriIndex]
		p1 := geom.Point2D{X: sources[tri.A].X, Y: sources[tri.A].Y}
		p2 := geom.Point2D{X: sources[tri.B].X, Y: sources[tri.B].Y}
		p3 := geom.Point2D{X: sources[tri.C].X, Y: sources[tri.C].Y}
		refTri := refTriangles[match.RefTriIndex]
		p1p := geom.Point2D{X: refSources[refTri.A].X, Y: refSources[refTri.A].Y}
		p2p := geom.Point2D{X: refSources[refTri.B].X, Y: refSources[refTri.B].Y}
		p3p := geom.Point2D{X: refSources[refTri.C].X, Y: refSources[refTri.C].Y}
		candidate, err := geom.NewTransform2D(p1, p2, p3, p1p, p2p, p3p)
		if err != nil {
			continue
		}

		// Identify all projected sources which have reasonably close matches to reference sources
		numMatches := 0
		refPoints := make([]geom.Point2D, len(sources))
		for id, src := range sources {
			p := geom.Point2D{X: src.X, Y: src.Y}
			proj := candidate.Apply(p)
			refPoint, distSquared := nearestSource(refSources, proj)
			if distSquared < distSquaredLimit {
				refPoints[id] = refPoint
				numMatches++
			} else {
				refPoints[id] = geom.Point2D{X: float32(math.NaN()), Y: float32(math.NaN())}
			}
		}
		if numMatches < len(sources)/3 { // abort if fewer than a third of the sources matched
			continue
		}

		// Minimize the distance between projected sources and their reference counterparts
		x0 := []float64{float64(candidate.A), float64(candidate.B), float64(candidate.C),
			float64(candidate.D), float64(candidate.E), float64(candidate.F)}
		problem := optimize.Problem{
			Func: func(x []float64) float64 {
				tr := geom.Transform2D{A: float32(x[0]), B: float32(x[1]), C: float32(x[2]),
					D: float32(x[3]), E: float32(x[4]), F: float32(x[5])}

				sourcesMatched := int32(0)
				distSquaredSum := float32(0)
				for id, src := range sources {
					p := geom.Point2D{X: src.X, Y: src.Y}
					proj := tr.Apply(p)

					refPoint := refPoints[id]
					if !math.IsNaN(float64(refPoint.X)) {
						distSquaredSum += geom.Dist2DSquared(proj, refPoint)
						sourcesMatched++
					}
				}
				return math.Sqrt(float64(distSquaredSum)) / float64(sourcesMatched)
			},
		}
		result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
		if err != nil {
			continue
		}

		x := result.X
		candidate = geom.Transform2D{A: float32(x[0]), B: float32(x[1]), C: float32(x[2]),
			D: float32(x[3]), E: float32(x[4]), F: float32(x[5])}
		residualError := float32(result.F)
		// Update best solution found, if applicable
		if residualError < bestResidualError {
			bestTrans = candidate
			bestResidualError = residualError

			if bestResidualError < earlyAbortForResidualError {
				return bestTrans, bestResidualError
			}
		}
	}

	return bestTrans, bestResidualError
}

// Finds the reference source closest to the given point by linear scan.
// Reference lists are small enough that a spatial index does not pay off
func nearestSource(refSources []Source, p geom.Point2D) (nearest geom.Point2D, distSquared float32) {
	distSquared = float32(math.MaxFloat32)
	for _, s := range refSources {
		q := geom.Point2D{X: s.X, Y: s.Y}
		if d := geom.Dist2DSquared(p, q); d < distSquared {
			nearest, distSquared = q, d
		}
	}
	return nearest, distSquared
}
