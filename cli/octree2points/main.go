// Package main is the octree2points command: it reconstructs oriented point
// sets from serialized octrees.
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Jian-Lu-gis/O-CNN-AS/octree"
)

const (
	// Flags.
	flagFilenames  = "filenames"
	flagOutputPath = "output-path"
	flagDepthStart = "depth-start"
	flagDepthEnd   = "depth-end"
	flagVerbose    = "verbose"
)

func main() {
	logger := golog.NewDevelopmentLogger("octree2points")

	app := &cli.App{
		Name:  "octree2points",
		Usage: "reconstruct point sets from serialized octrees",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: flagFilenames, Usage: "input .octree files", Required: true},
			&cli.StringFlag{Name: flagOutputPath, Value: ".", Usage: "the output path"},
			&cli.IntFlag{Name: flagDepthStart, Value: 0, Usage: "the starting depth"},
			&cli.IntFlag{Name: flagDepthEnd, Value: 10, Usage: "the ending depth"},
			&cli.BoolFlag{Name: flagVerbose, Value: true, Usage: "output logs"},
		},
		Action: func(c *cli.Context) error {
			return convertAll(c, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func convertAll(c *cli.Context, logger golog.Logger) error {
	outputPath := c.String(flagOutputPath)

	for _, fn := range c.StringSlice(flagFilenames) {
		if c.Bool(flagVerbose) {
			logger.Infof("processing %s", fn)
		}

		tree, err := octree.ReadWireFile(fn)
		if err != nil {
			return errors.Wrapf(err, "cannot load %s", fn)
		}

		pts, err := tree.ToPoints(c.Int(flagDepthStart), c.Int(flagDepthEnd))
		if err != nil {
			return errors.Wrapf(err, "cannot convert %s", fn)
		}

		base := strings.TrimSuffix(filepath.Base(fn), filepath.Ext(fn))
		out := filepath.Join(outputPath, base+".points")
		if err := pts.WriteFile(out); err != nil {
			return errors.Wrapf(err, "cannot write %s", out)
		}
	}
	return nil
}
