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

	"github.com/mlnoga/skyflag/internal/align"
	"github.com/mlnoga/skyflag/internal/fits"
)

// Source detection and matching parameters for transform solving
const (
	alignSigmas      = 10
	alignMaxSources  = 100
	alignK           = 10
	alignMaxResidual = 1.0 // maximum acceptable mean alignment residual in pixels
)

// Solves grid transforms from star patterns for exposures which did not carry
// one, matching them against the first exposure as the reference frame.
// Exposures with a stored transform are left untouched
func AlignExposures(exposures []*fits.Image, logWriter io.Writer) error {
	if len(exposures) < 2 {
		return nil
	}
	ref := exposures[0]
	refSources := align.DetectSources(ref, alignSigmas, alignMaxSources)
	if len(refSources) < 3 {
		return fmt.Errorf("%d: only %d source(s) detected, need at least 3 to align", ref.ID, len(refSources))
	}
	aligner := align.NewAligner(ref.Naxisn, refSources, alignK)

	for _, e := range exposures[1:] {
		if !e.Trans.IsIdentity(0) {
			continue
		}
		sources := align.DetectSources(e, alignSigmas, alignMaxSources)
		if len(sources) < 3 {
			return fmt.Errorf("%d: only %d source(s) detected, need at least 3 to align", e.ID, len(sources))
		}
		trans, residual := aligner.Align(e.Naxisn, sources)
		if residual > alignMaxResidual {
			return fmt.Errorf("%d: alignment failed, residual %.3g pixels", e.ID, residual)
		}
		e.Trans = trans
		fmt.Fprintf(logWriter, "%d: solved grid transform %s, residual %.3g pixels\n",
			e.ID, trans.String(), residual)
	}
	return nil
}
