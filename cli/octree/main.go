// Package main is the octree builder command: it converts oriented point
// cloud files into serialized octrees.
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Jian-Lu-gis/O-CNN-AS/octree"
	"github.com/Jian-Lu-gis/O-CNN-AS/pointcloud"
)

const (
	// Flags.
	flagFilenames  = "filenames"
	flagOutputPath = "output-path"
	flagDepth      = "depth"
	flagFullDepth  = "full-depth"
	flagAdaptive   = "adaptive"
	flagAdpDepth   = "adp-depth"
	flagThDist     = "th-dist"
	flagThNorm     = "th-norm"
	flagNodeDis    = "node-dis"
	flagNodeFeat   = "node-feature"
	flagSplitLabel = "split-label"
	flagKey2XYZ    = "key2xyz"
	flagVerbose    = "verbose"
)

func main() {
	logger := golog.NewDevelopmentLogger("octree")

	app := &cli.App{
		Name:  "octree",
		Usage: "build serialized octrees from oriented point cloud files",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: flagFilenames, Usage: "input .points files", Required: true},
			&cli.StringFlag{Name: flagOutputPath, Value: ".", Usage: "the output path"},
			&cli.IntFlag{Name: flagDepth, Value: 6, Usage: "the maximum depth of the octree"},
			&cli.IntFlag{Name: flagFullDepth, Value: 2, Usage: "the full layer of the octree"},
			&cli.BoolFlag{Name: flagAdaptive, Usage: "build adaptive octrees"},
			&cli.IntFlag{Name: flagAdpDepth, Value: 4, Usage: "the starting depth of adaptive trimming"},
			&cli.Float64Flag{Name: flagThDist, Value: 0.866, Usage: "the distance error threshold"},
			&cli.Float64Flag{Name: flagThNorm, Value: 0.2, Usage: "the normal error threshold"},
			&cli.BoolFlag{Name: flagNodeDis, Usage: "store per-node displacements"},
			&cli.BoolFlag{Name: flagNodeFeat, Usage: "store features on every level"},
			&cli.BoolFlag{Name: flagSplitLabel, Value: true, Usage: "store per-node split labels"},
			&cli.BoolFlag{Name: flagKey2XYZ, Usage: "serialize keys as xyz tuples"},
			&cli.BoolFlag{Name: flagVerbose, Value: true, Usage: "output logs"},
		},
		Action: func(c *cli.Context) error {
			return buildAll(c, logger)
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func buildAll(c *cli.Context, logger golog.Logger) error {
	cfg := octree.Config{
		Depth:            c.Int(flagDepth),
		FullDepth:        c.Int(flagFullDepth),
		Adaptive:         c.Bool(flagAdaptive),
		AdaptiveDepth:    c.Int(flagAdpDepth),
		NodeDisplacement: c.Bool(flagNodeDis),
		NodeFeature:      c.Bool(flagNodeFeat),
		SplitLabel:       c.Bool(flagSplitLabel),
		Key2XYZ:          c.Bool(flagKey2XYZ),
		ThresholdDist:    float32(c.Float64(flagThDist)),
		ThresholdNorm:    float32(c.Float64(flagThNorm)),
	}
	outputPath := c.String(flagOutputPath)

	for _, fn := range c.StringSlice(flagFilenames) {
		if c.Bool(flagVerbose) {
			logger.Infof("processing %s", fn)
		}

		pts, err := pointcloud.ReadFile(fn)
		if err != nil {
			return errors.Wrapf(err, "cannot load %s", fn)
		}

		info, err := octree.NewInfo(cfg, pts)
		if err != nil {
			return err
		}
		center, radius := pts.Bounds()
		info.SetBBoxFromRadius(radius, center)

		var tree octree.Octree
		if err := tree.Build(info, pts); err != nil {
			return errors.Wrapf(err, "cannot build an octree from %s", fn)
		}

		out := outputName(fn, outputPath)
		if err := tree.SaveFile(out); err != nil {
			return errors.Wrapf(err, "cannot write %s", out)
		}
	}
	return nil
}

func outputName(fn, outputPath string) string {
	base := strings.TrimSuffix(filepath.Base(fn), filepath.Ext(fn))
	return filepath.Join(outputPath, base+".octree")
}
