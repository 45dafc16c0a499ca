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

package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/skyflag/internal/detect"
	"github.com/mlnoga/skyflag/internal/ops"
)

func Serve() {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/detect", postDetect)
		}
	}
	r.Run() // listen and serve on 0.0.0.0:8080
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

type postDetectArgs struct {
	FilePatterns []string       `json:"filePatterns"`
	Config       *detect.Config `json:"config"`
	Align        bool           `json:"align"`   // solve grid transforms from star patterns where absent
	WriteDQ      bool           `json:"writeDQ"` // write flagged DQ planes back to sibling files
}

// Runs outlier detection over the given file patterns, streaming the
// processing log as the response body
func postDetect(c *gin.Context) {
	logWriter := c.Writer
	var args postDetectArgs
	if err := c.ShouldBind(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := detect.NewConfig()
	if args.Config != nil {
		cfg = *args.Config
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	ctx := ops.NewContext(logWriter, runtime.GOMAXPROCS(0))
	exposures, err := detect.LoadExposures(args.FilePatterns, ctx.MaxThreads, logWriter)
	if err != nil {
		fmt.Fprintf(logWriter, "Error loading exposures: %s\n", err.Error())
		return
	}
	if args.Align {
		if err := detect.AlignExposures(exposures, logWriter); err != nil {
			fmt.Fprintf(logWriter, "Error aligning exposures: %s\n", err.Error())
			return
		}
	}

	summary, err := detect.NewDetector(cfg).Detect(exposures, ctx)
	if err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		logWriter.(http.Flusher).Flush()
		return
	}

	if args.WriteDQ {
		for _, e := range exposures {
			if err := e.WriteDQFile(); err != nil {
				fmt.Fprintf(logWriter, "Warning: writing DQ for %s: %s\n", e.FileName, err.Error())
			}
		}
	}
	fmt.Fprintf(logWriter, "%s\n", summary.String())
	logWriter.(http.Flusher).Flush()
}
