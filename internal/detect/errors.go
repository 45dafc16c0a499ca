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
	"strings"
)

// A configuration rejected by validation. Processing never starts
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

// A fatal failure while resampling exposures onto the common grid
type ResampleError struct {
	Err error
}

func (e *ResampleError) Error() string { return "resample: " + e.Err.Error() }
func (e *ResampleError) Unwrap() error { return e.Err }

// A fatal failure while combining mosaics into the reference image
type CombineError struct {
	Err error
}

func (e *CombineError) Error() string { return "combine: " + e.Err.Error() }
func (e *CombineError) Unwrap() error { return e.Err }

// A failure to persist an intermediate result. Recovered: the run continues
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %s", e.Path, e.Err.Error())
}
func (e *PersistenceError) Unwrap() error { return e.Err }

// A failure while flagging a single exposure. Recovered: remaining exposures
// are still processed
type ExposureError struct {
	ID       int
	FileName string
	Err      error
}

func (e *ExposureError) Error() string {
	return fmt.Sprintf("exposure %d (%s): %s", e.ID, e.FileName, e.Err.Error())
}
func (e *ExposureError) Unwrap() error { return e.Err }

// Aggregated outcome of a detection run
type RunSummary struct {
	ReferenceBuilt bool             // false when the run failed before a reference existed
	Exposures      int              // number of input exposures
	Flagged        int              // exposures successfully compared and flagged
	OutlierPixels  []int            // newly flagged pixel count per exposure, by input order
	Failures       []*ExposureError // contained per-exposure failures
}

func (s *RunSummary) String() string {
	if !s.ReferenceBuilt {
		return "no reference built"
	}
	b := strings.Builder{}
	fmt.Fprintf(&b, "reference built, %d of %d exposure(s) flagged", s.Flagged, s.Exposures)
	total := 0
	for _, n := range s.OutlierPixels {
		total += n
	}
	fmt.Fprintf(&b, ", %d outlier pixel(s)", total)
	if len(s.Failures) > 0 {
		fmt.Fprintf(&b, ", %d failure(s)", len(s.Failures))
	}
	return b.String()
}
