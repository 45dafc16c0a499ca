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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/mlnoga/skyflag/internal/detect"
	"github.com/mlnoga/skyflag/internal/fits"
	"github.com/mlnoga/skyflag/internal/ops"
	"github.com/mlnoga/skyflag/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var logFile = flag.String("log", "", "tee log output to `file` in addition to stdout")

var resample = flag.Int64("resample", 1, "1=resample groups onto a common grid, 0=compare on native grids")
var weight = flag.String("weight", "ivm", "pixel weighting: exptime, expsq or ivm")
var goodBits = flag.Int64("goodBits", int64(^fits.DQDoNotUse), "DQ bits which do not disqualify a pixel")
var maskpt = flag.Float64("maskpt", 0.7, "weight threshold fraction in (0,1] for the median combine")
var snr1 = flag.Float64("snr1", 5, "primary detection threshold in sigmas")
var snr2 = flag.Float64("snr2", 4, "secondary detection threshold in sigmas, on smoothed residuals")
var scale1 = flag.Float64("scale1", 1.2, "noise model: factor on the reference signal")
var scale2 = flag.Float64("scale2", 0.7, "noise model: constant noise floor")
var backg = flag.Float64("backg", 0, "constant background level subtracted from residuals")
var saveIntermediate = flag.Int64("saveIntermediate", 0, "1=persist mosaics and the median reference image")
var inMemory = flag.Int64("inMemory", 1, "1=keep mosaics in memory, 0=spill to temp files")
var tempDir = flag.String("tempDir", "", "directory for spilled mosaics, empty for the OS default")
var alignFlag = flag.Int64("align", 0, "1=solve grid transforms from star patterns for exposures lacking them")
var writeDQ = flag.Int64("writeDQ", 1, "1=write flagged DQ planes back to *_dq.fits sibling files")
var overlay = flag.Int64("overlay", 0, "1=write *_overlay.jpg previews with flagged pixels highlighted")
var tiffOut = flag.String("tiff", "", "export the median reference image to `file` as 16-bit TIFF")
var jpgOut = flag.String("jpg", "", "export the median reference image to `file` as JPEG preview")

func main() {
	var logWriter io.Writer = os.Stdout
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Skyflag Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (detect|serve|version|legal) (img0.fits ... imgn.fits)

Commands:
  detect  Flag outlier pixels across the input exposures
  serve   Run a HTTP server exposing detection on port 8080
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Tee logging to a file in addition to stdout, if selected
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Unable to open logfile '%s': %s\n", *logFile, err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		logWriter = io.MultiWriter(os.Stdout, f)
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	var err error
	switch args[0] {
	case "serve":
		rest.Serve()

	case "detect":
		err = cmdDetect(args[1:], logWriter)

	case "legal":
		cmdLegal(logWriter)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed := time.Now().Sub(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			fmt.Fprintf(logWriter, "Could not write allocation profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}

	if err != nil {
		fmt.Fprintf(logWriter, "Error: %s\n", err.Error())
		os.Exit(-1)
	}
}

// Perform the outlier detection command
func cmdDetect(args []string, logWriter io.Writer) error {
	cfg := detect.NewConfig()
	cfg.ResampleData = *resample != 0
	cfg.WeightType = *weight
	cfg.GoodBits = int32(*goodBits)
	cfg.Maskpt = float32(*maskpt)
	cfg.SNR = [2]float32{float32(*snr1), float32(*snr2)}
	cfg.Scale = [2]float32{float32(*scale1), float32(*scale2)}
	cfg.Backg = float32(*backg)
	cfg.SaveIntermediateResults = *saveIntermediate != 0
	cfg.InMemory = *inMemory != 0
	cfg.TempDir = *tempDir

	ctx := ops.NewContext(logWriter, runtime.GOMAXPROCS(0))
	fmt.Fprintf(ctx.Log, "Found %d MiB of physical memory, running up to %d threads\n",
		ctx.MemoryMB, ctx.MaxThreads)

	exposures, err := detect.LoadExposures(args, ctx.MaxThreads, logWriter)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.Log, "Loaded %d exposure(s)\n", len(exposures))

	if *alignFlag != 0 {
		if err := detect.AlignExposures(exposures, logWriter); err != nil {
			return err
		}
	}

	d := detect.NewDetector(cfg)
	if *tiffOut != "" || *jpgOut != "" {
		d.OnReference = func(ref *fits.Image) {
			stats := ref.CalcStats()
			if *tiffOut != "" {
				if err := ref.WriteMonoTIFF16ToFile(*tiffOut, stats.Min, stats.Max, 1.0); err != nil {
					fmt.Fprintf(logWriter, "Warning: writing reference TIFF %s: %s\n", *tiffOut, err.Error())
				}
			}
			if *jpgOut != "" {
				if err := ref.WriteMonoJPGToFile(*jpgOut, stats.Min, stats.Max, 2.2, 90); err != nil {
					fmt.Fprintf(logWriter, "Warning: writing reference JPEG %s: %s\n", *jpgOut, err.Error())
				}
			}
		}
	}
	if _, err := d.Detect(exposures, ctx); err != nil {
		return err
	}

	if *writeDQ != 0 {
		for _, e := range exposures {
			if err := e.WriteDQFile(); err != nil {
				fmt.Fprintf(logWriter, "Warning: writing DQ for %s: %s\n", e.FileName, err.Error())
			}
		}
	}
	if *overlay != 0 {
		for _, e := range exposures {
			stats := e.CalcStats()
			overlayPath := detect.MakeOutputPath(e.FileName, "overlay")
			overlayPath = overlayPath[:len(overlayPath)-len(filepath.Ext(overlayPath))] + ".jpg"
			if err := e.WriteDQOverlayJPGToFile(overlayPath, stats.Min, stats.Max, 2.2, 90); err != nil {
				fmt.Fprintf(logWriter, "Warning: writing overlay for %s: %s\n", e.FileName, err.Error())
			}
		}
	}
	return nil
}
