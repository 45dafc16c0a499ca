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
	"path/filepath"
	"strings"

	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/ops"
)

// Globs the given patterns and loads the matching exposures in parallel,
// including their DQ sibling files where present. DQ siblings themselves are
// skipped even when a pattern matches them. Exposures get sequential IDs in
// match order
func LoadExposures(patterns []string, maxThreads int, logWriter io.Writer) ([]*fits.Image, error) {
	fileNames := []string{}
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %s", p, err.Error())
		}
		if len(matches) == 0 {
			fmt.Fprintf(logWriter, "Warning: pattern %q matched no files\n", p)
		}
		for _, m := range matches {
			if isDQSibling(m) {
				continue
			}
			fileNames = append(fileNames, m)
		}
	}
	if len(fileNames) == 0 {
		return nil, fmt.Errorf("no input files found")
	}

	promises := make([]ops.Promise, len(fileNames))
	for i, name := range fileNames {
		i, name := i, name
		promises[i] = func() (*fits.Image, error) {
			img, err := fits.NewImageFromFile(name, i, logWriter)
			if err != nil {
				return nil, fmt.Errorf("%s: %s", name, err.Error())
			}
			if err := img.ReadDQFile(logWriter); err != nil {
				return nil, err
			}
			return img, nil
		}
	}
	return ops.MaterializeAll(promises, maxThreads)
}

func isDQSibling(fileName string) bool {
	base := fileName
	for {
		ext := filepath.Ext(base)
		if ext == "" {
			break
		}
		base = base[:len(base)-len(ext)]
	}
	return strings.HasSuffix(base, "_dq")
}
