package octree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/Jian-Lu-gis/O-CNN-AS/pointcloud"
)

// MagicStr identifies the serialized octree format.
const MagicStr = "_OCTREE_1.0_"

// PropType enumerates the node properties a serialized octree may carry.
// Values double as bits of the content flags.
type PropType int32

// The supported node properties.
const (
	PropKey PropType = 1 << iota
	PropChild
	PropFeature
	PropLabel
	PropSplit
)

const numProps = 5

// maxDepth bounds the octree depth so a Morton key fits 24 bits and a packed
// xyz key fits one byte per coordinate.
const maxDepth = 8

// locAll marks a property stored at every level of the octree; any other
// location names the single level carrying it.
const locAll = -1

// Config carries the build-time options of an octree.
type Config struct {
	// Depth is the finest octree level, in [1, 8].
	Depth int
	// FullDepth is the level up to which the tree is stored dense, in [0, Depth].
	FullDepth int
	// Adaptive enables error-driven trimming of well-approximated subtrees.
	Adaptive bool
	// AdaptiveDepth is the shallowest level trimming may touch, in [FullDepth, Depth].
	AdaptiveDepth int
	// NodeDisplacement stores a signed along-normal offset per node.
	NodeDisplacement bool
	// NodeFeature stores the averaged signals on every level instead of only
	// the finest one.
	NodeFeature bool
	// SplitLabel stores the ternary split tag per node.
	SplitLabel bool
	// Key2XYZ serializes keys as packed (x,y,z,level) tuples instead of Morton codes.
	Key2XYZ bool
	// ThresholdDist and ThresholdNorm are the adaptive trimming thresholds.
	ThresholdDist float32
	ThresholdNorm float32
}

// infoWire is the fixed little-endian on-disk layout of Info.
type infoWire struct {
	Magic         [16]byte
	BatchSize     int32
	Depth         int32
	FullLayer     int32
	AdpLayer      int32
	IsAdaptive    int32
	HasDisplace   int32
	Key2XYZ       int32
	ThresholdDist float32
	ThresholdNorm float32
	BBMin         [3]float32
	BBMax         [3]float32
	ContentFlags  int32
	Channels      [numProps]int32
	Locations     [numProps]int32
	NNum          [maxDepth + 2]int32
	NNumCum       [maxDepth + 3]int32
	NNumNempty    [maxDepth + 2]int32
	PtrDis        [numProps + 1]int32
}

var infoSize = binary.Size(infoWire{})

// Info describes the layout, thresholds and per-level node counts of an
// octree. It is a value owned by the octree being built; the node counts and
// pointer displacements are filled in by the builder.
type Info struct {
	w infoWire
}

func propertyIndex(ptype PropType) int {
	for i := 0; i < numProps; i++ {
		if ptype&(1<<i) != 0 {
			return i
		}
	}
	return 0
}

// NewInfo derives an octree descriptor from the build options and the
// property widths of the input cloud.
func NewInfo(cfg Config, pts *pointcloud.Points) (*Info, error) {
	if cfg.Depth < 1 || cfg.Depth > maxDepth {
		return nil, errors.Errorf("depth %d out of range [1, %d]", cfg.Depth, maxDepth)
	}
	if cfg.FullDepth < 0 || cfg.FullDepth > cfg.Depth {
		return nil, errors.Errorf("full depth %d out of range [0, %d]", cfg.FullDepth, cfg.Depth)
	}
	adp := cfg.AdaptiveDepth
	if cfg.Adaptive && (adp < cfg.FullDepth || adp > cfg.Depth) {
		return nil, errors.Errorf("adaptive depth %d out of range [%d, %d]", adp, cfg.FullDepth, cfg.Depth)
	}
	if !cfg.Adaptive {
		adp = cfg.Depth
	}

	info := &Info{}
	copy(info.w.Magic[:], MagicStr)
	info.w.BatchSize = 1
	info.w.Depth = int32(cfg.Depth)
	info.w.FullLayer = int32(cfg.FullDepth)
	info.w.AdpLayer = int32(adp)
	info.w.IsAdaptive = b2i(cfg.Adaptive)
	info.w.HasDisplace = b2i(cfg.NodeDisplacement)
	info.w.Key2XYZ = b2i(cfg.Key2XYZ)
	info.w.ThresholdDist = cfg.ThresholdDist
	info.w.ThresholdNorm = cfg.ThresholdNorm

	// key and child blocks are always present
	keyChannel := 1
	if cfg.Key2XYZ && cfg.Depth > maxDepth {
		keyChannel = 2
	}
	info.setProperty(PropKey, keyChannel, locAll)
	info.setProperty(PropChild, 1, locAll)
	if cfg.SplitLabel {
		info.setProperty(PropSplit, 1, locAll)
	}

	var channel, labelChannel int
	if pts != nil {
		ptInfo := pts.Info()
		channel = ptInfo.Channel(pointcloud.PropNormal) +
			ptInfo.Channel(pointcloud.PropFeature) +
			ptInfo.Channel(pointcloud.PropFPFH) +
			ptInfo.Channel(pointcloud.PropRoughness)
		labelChannel = ptInfo.Channel(pointcloud.PropLabel)
	}
	if cfg.NodeDisplacement {
		channel++
	}
	location := cfg.Depth
	if cfg.NodeFeature || cfg.Adaptive {
		location = locAll
	}
	info.setProperty(PropFeature, channel, location)

	if labelChannel == 1 {
		info.setProperty(PropLabel, 1, location)
	}
	return info, nil
}

func b2i(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Depth returns the finest octree level.
func (i *Info) Depth() int { return int(i.w.Depth) }

// FullLayer returns the level up to which the tree is dense.
func (i *Info) FullLayer() int { return int(i.w.FullLayer) }

// AdaptiveLayer returns the shallowest level adaptive trimming may touch.
func (i *Info) AdaptiveLayer() int { return int(i.w.AdpLayer) }

// IsAdaptive reports whether adaptive trimming is enabled.
func (i *Info) IsAdaptive() bool { return i.w.IsAdaptive != 0 }

// HasDisplace reports whether per-node displacements are stored.
func (i *Info) HasDisplace() bool { return i.w.HasDisplace != 0 }

// Key2XYZ reports whether keys serialize as packed coordinate tuples.
func (i *Info) Key2XYZ() bool { return i.w.Key2XYZ != 0 }

// ThresholdDist returns the adaptive distance-error threshold.
func (i *Info) ThresholdDist() float32 { return i.w.ThresholdDist }

// ThresholdNorm returns the adaptive normal-error threshold.
func (i *Info) ThresholdNorm() float32 { return i.w.ThresholdNorm }

// BBMin returns the lower corner of the configured bounding box.
func (i *Info) BBMin() r3.Vector {
	return r3.Vector{X: float64(i.w.BBMin[0]), Y: float64(i.w.BBMin[1]), Z: float64(i.w.BBMin[2])}
}

// BBMax returns the upper corner of the configured bounding box.
func (i *Info) BBMax() r3.Vector {
	return r3.Vector{X: float64(i.w.BBMax[0]), Y: float64(i.w.BBMax[1]), Z: float64(i.w.BBMax[2])}
}

// SetBBox sets the bounding box of the octree.
func (i *Info) SetBBox(bbmin, bbmax r3.Vector) {
	i.w.BBMin = [3]float32{float32(bbmin.X), float32(bbmin.Y), float32(bbmin.Z)}
	i.w.BBMax = [3]float32{float32(bbmax.X), float32(bbmax.Y), float32(bbmax.Z)}
}

// SetBBoxFromRadius centers a cubic bounding box of half-side radius on center.
func (i *Info) SetBBoxFromRadius(radius float64, center r3.Vector) {
	off := r3.Vector{X: radius, Y: radius, Z: radius}
	i.SetBBox(center.Sub(off), center.Add(off))
}

// BBoxMaxWidth returns the longest side of the bounding box, with a degenerate
// zero-width box treated as 1e-10.
func (i *Info) BBoxMaxWidth() float32 {
	maxWidth := i.w.BBMax[0] - i.w.BBMin[0]
	for c := 1; c < 3; c++ {
		if w := i.w.BBMax[c] - i.w.BBMin[c]; w > maxWidth {
			maxWidth = w
		}
	}
	if maxWidth == 0 {
		maxWidth = 1.0e-10
	}
	return maxWidth
}

// HasProperty reports whether the serialized form carries the given property.
func (i *Info) HasProperty(ptype PropType) bool {
	return i.w.ContentFlags&int32(ptype) != 0
}

// Channel returns the channel width of the given property, 0 if absent.
func (i *Info) Channel(ptype PropType) int {
	if !i.HasProperty(ptype) {
		return 0
	}
	return int(i.w.Channels[propertyIndex(ptype)])
}

// Location returns -1 when the property is stored on every level, or the
// single level carrying it.
func (i *Info) Location(ptype PropType) int {
	if !i.HasProperty(ptype) {
		return 0
	}
	return int(i.w.Locations[propertyIndex(ptype)])
}

func (i *Info) setProperty(ptype PropType, ch, lc int) {
	idx := propertyIndex(ptype)
	if ch > 0 {
		i.w.Channels[idx] = int32(ch)
		i.w.ContentFlags |= int32(ptype)
	} else {
		i.w.Channels[idx] = 0
		i.w.ContentFlags &^= int32(ptype)
	}
	i.w.Locations[idx] = int32(lc)
}

// NodeNum returns the node count of level d.
func (i *Info) NodeNum(d int) int { return int(i.w.NNum[d]) }

// NodeNumCum returns the total node count of levels before d.
func (i *Info) NodeNumCum(d int) int { return int(i.w.NNumCum[d]) }

// NodeNumNempty returns the non-empty node count of level d.
func (i *Info) NodeNumNempty(d int) int { return int(i.w.NNumNempty[d]) }

// TotalNodeNum returns the node count over all levels.
func (i *Info) TotalNodeNum() int { return int(i.w.NNumCum[i.w.Depth+1]) }

func (i *Info) totalNodeNumCapacity() int { return int(i.w.NNumCum[i.w.Depth+2]) }

func (i *Info) setNodeNum(nnum, nempty []int32) {
	copy(i.w.NNum[:], nnum)
	copy(i.w.NNumNempty[:], nempty)
	i.w.NNumCum[0] = 0
	for d := int32(1); d < i.w.Depth+2; d++ {
		i.w.NNumCum[d] = i.w.NNumCum[d-1] + i.w.NNum[d-1]
	}
	i.w.NNumCum[i.w.Depth+2] = i.w.NNumCum[i.w.Depth+1]
	i.setPtrDis()
}

// setPtrDis recomputes the byte offset of every property block from the start
// of the serialized buffer.
func (i *Info) setPtrDis() {
	i.w.PtrDis[0] = int32(infoSize)
	for idx := 1; idx <= numProps; idx++ {
		ptype := PropType(1 << (idx - 1))
		num := int32(i.totalNodeNumCapacity())
		if lc := i.Location(ptype); lc != locAll {
			num = i.w.NNum[lc]
		}
		i.w.PtrDis[idx] = i.w.PtrDis[idx-1] + 4*num*i.w.Channels[idx-1]
	}
}

// PtrDis returns the byte offset of the given property at level depth inside
// the serialized buffer, or -1 when the property is absent.
func (i *Info) PtrDis(ptype PropType, depth int) int {
	if !i.HasProperty(ptype) {
		return -1
	}
	dis := int(i.w.PtrDis[propertyIndex(ptype)])
	if i.Location(ptype) == locAll {
		dis += i.NodeNumCum(depth) * i.Channel(ptype) * 4
	}
	return dis
}

// SizeofOctree returns the byte size of the serialized buffer.
func (i *Info) SizeofOctree() int { return int(i.w.PtrDis[numProps]) }

// CheckFormat validates the descriptor, returning a diagnostic listing every
// violated constraint.
func (i *Info) CheckFormat() error {
	var msg []string
	var magic [16]byte
	copy(magic[:], MagicStr)
	if i.w.Magic != magic {
		msg = append(msg, "the version of octree format is not "+MagicStr)
	}
	if i.w.BatchSize < 1 {
		msg = append(msg, "the batch size should be larger than 0")
	}
	if i.w.Depth < 1 || i.w.Depth > maxDepth {
		msg = append(msg, "the depth should be in range [1, 8]")
	}
	if i.w.FullLayer < 0 || i.w.FullLayer > i.w.Depth {
		msg = append(msg, "the full layer should be in range [0, depth]")
	}
	if i.w.AdpLayer < i.w.FullLayer || i.w.AdpLayer > i.w.Depth {
		msg = append(msg, "the adaptive layer should be in range [full layer, depth]")
	}
	channelMax := [numProps]int32{2, 1, 1 << 30, 1, 1}
	for idx := 0; idx < numProps; idx++ {
		ch := i.w.Channels[idx]
		if ch < 0 || ch > channelMax[idx] {
			msg = append(msg, fmt.Sprintf("channel %d should be in range [0, %d]", idx, channelMax[idx]))
		}
		if (ch == 0) != (i.w.ContentFlags&(1<<idx) == 0) {
			msg = append(msg, fmt.Sprintf("the content flags should be consistent with channel %d", idx))
		}
		if ch != 0 && i.w.Locations[idx] != locAll && i.w.Locations[idx] != i.w.Depth {
			msg = append(msg, fmt.Sprintf("location %d should be -1 or %d", idx, i.w.Depth))
		}
	}
	if len(msg) != 0 {
		return errors.New(strings.Join(msg, "; "))
	}
	return nil
}

// MarshalBinary encodes the descriptor in its fixed little-endian layout.
func (i *Info) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &i.w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes the descriptor from its fixed little-endian layout.
func (i *Info) UnmarshalBinary(data []byte) error {
	if len(data) < infoSize {
		return errors.Errorf("octree info needs %d bytes, got %d", infoSize, len(data))
	}
	return binary.Read(bytes.NewReader(data[:infoSize]), binary.LittleEndian, &i.w)
}
