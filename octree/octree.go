// Package octree converts an oriented point cloud into a serialized,
// hierarchical, axis-aligned octree. Points are hashed into Morton-ordered
// cell codes, the tree is materialized level by level with explicit
// parent-child pointers, per-node signals are aggregated bottom-up, the tree
// is optionally trimmed where local geometry is well approximated, and the
// result is laid out in a single contiguous byte buffer.
package octree

import (
	"sort"

	"github.com/Jian-Lu-gis/O-CNN-AS/pointcloud"
	"github.com/Jian-Lu-gis/O-CNN-AS/utils"
)

// esp guards denominators against division by zero.
const esp = 1.0e-10

// leaf is the child-pointer sentinel marking a node without children.
const leaf = -1

// errNotMeasured marks error metrics on nodes outside the adaptive range.
const errNotMeasured = 1.0e20

// errDegenerate marks a distance error whose intersection polygon was empty.
const errDegenerate = 5.0e10

// Octree is the constructed tree: per-level key, child-pointer and signal
// arrays plus the serialized transport buffer. Build populates all of them;
// afterwards the value is read-many.
type Octree struct {
	info Info

	keys     [][]uint32
	children [][]int32

	avgNormals   [][]float32
	avgPts       [][]float32
	avgFeatures  [][]float32
	avgFPFH      [][]float32
	avgRoughness [][]float32
	avgLabels    [][]float32
	displacement [][]float32
	splitLabels  [][]float32
	maxLabel     int

	// coverage of the finest level by each subtree
	dnum [][]int32
	didx [][]int32

	normalErr   [][]float32
	distanceErr [][]float32

	buffer []byte
}

// Info returns the descriptor of the built octree.
func (t *Octree) Info() *Info { return &t.info }

// Keys returns the Morton keys of level d.
func (t *Octree) Keys(d int) []uint32 { return t.keys[d] }

// Children returns the child-block pointers of level d; -1 marks a leaf.
func (t *Octree) Children(d int) []int32 { return t.children[d] }

// AvgNormals returns the channel-major averaged normals of level d.
func (t *Octree) AvgNormals(d int) []float32 { return t.avgNormals[d] }

// AvgPts returns the channel-major averaged positions of level d, expressed
// in level-d cell units.
func (t *Octree) AvgPts(d int) []float32 { return t.avgPts[d] }

// AvgFeatures returns the channel-major averaged features of level d.
func (t *Octree) AvgFeatures(d int) []float32 { return t.avgFeatures[d] }

// AvgFPFH returns the channel-major averaged FPFH descriptors of level d.
func (t *Octree) AvgFPFH(d int) []float32 { return t.avgFPFH[d] }

// AvgRoughness returns the channel-major averaged roughness of level d.
func (t *Octree) AvgRoughness(d int) []float32 { return t.avgRoughness[d] }

// AvgLabels returns the majority-vote labels of level d; -1 marks "no label".
func (t *Octree) AvgLabels(d int) []float32 { return t.avgLabels[d] }

// Displacement returns the along-normal offsets of level d.
func (t *Octree) Displacement(d int) []float32 { return t.displacement[d] }

// SplitLabels returns the ternary split tags of level d.
func (t *Octree) SplitLabels(d int) []float32 { return t.splitLabels[d] }

// NormalErr returns the normal deviation metric of level d.
func (t *Octree) NormalErr(d int) []float32 { return t.normalErr[d] }

// DistanceErr returns the geometric deviation metric of level d.
func (t *Octree) DistanceErr(d int) []float32 { return t.distanceErr[d] }

// Buffer returns the serialized transport form.
func (t *Octree) Buffer() []byte { return t.buffer }

// Build constructs the octree described by info from the given cloud. It runs
// to completion; all numerical degeneracies are represented by sentinel values
// rather than errors.
func (t *Octree) Build(info *Info, pts *pointcloud.Points) error {
	if err := info.CheckFormat(); err != nil {
		return err
	}
	infoCopy := *info

	t.clear(infoCopy.Depth())
	t.info = infoCopy

	// hash points into sorted leaf cells; an empty cloud degenerates to a
	// dense full-layer tree with no occupied leaves
	var ptsScaled []float32
	var nodeKeys, sortedIdx, uniqueIdx []uint32
	if pts != nil && pts.Len() > 0 {
		ptsScaled = t.normalizePts(pts)
		nodeKeys, sortedIdx = t.sortKeys(ptsScaled)
		nodeKeys, uniqueIdx = uniqueKey(nodeKeys)
	}

	t.buildStructure(nodeKeys)
	t.calcNodeNum()

	// average the signals of the finest level
	if pts != nil && pts.Len() > 0 {
		t.calcSignalLeaf(pts, ptsScaled, sortedIdx, uniqueIdx)
	}

	// propagate to the other levels when features live on every node
	if t.info.Location(PropFeature) == locAll {
		t.coveredDepthNodes()

		calcNormErr := t.info.IsAdaptive()
		calcDistErr := t.info.IsAdaptive() && t.info.HasDisplace()
		t.calcSignalUpper(calcNormErr, calcDistErr)
	}

	if t.info.HasProperty(PropSplit) {
		t.calcSplitLabel()
	}

	t.serialize()

	t.trimOctree()
	return nil
}

func (t *Octree) clear(depth int) {
	n := depth + 1
	t.keys = make([][]uint32, n)
	t.children = make([][]int32, n)
	t.avgNormals = make([][]float32, n)
	t.avgPts = make([][]float32, n)
	t.avgFeatures = make([][]float32, n)
	t.avgFPFH = make([][]float32, n)
	t.avgRoughness = make([][]float32, n)
	t.avgLabels = make([][]float32, n)
	t.displacement = make([][]float32, n)
	t.splitLabels = make([][]float32, n)
	t.dnum = make([][]int32, n)
	t.didx = make([][]int32, n)
	t.normalErr = make([][]float32, n)
	t.distanceErr = make([][]float32, n)
	t.maxLabel = 0
	t.buffer = nil
	t.info = Info{}
}

// normalizePts rescales the cloud into [0, 2^depth) using the configured
// bounding box.
func (t *Octree) normalizePts(pts *pointcloud.Points) []float32 {
	bbmin := t.info.w.BBMin
	raw := pts.Pts()
	npt := pts.Len()
	mul := float32(int32(1)<<t.info.Depth()) / t.info.BBoxMaxWidth()

	scaled := make([]float32, 3*npt)
	utils.ParallelFor(npt, func(i int) {
		i3 := 3 * i
		for j := 0; j < 3; j++ {
			scaled[i3+j] = (raw[i3+j] - bbmin[j]) * mul
		}
	})
	return scaled
}

// sortKeys computes the Morton key of every point and sorts the points into
// key order, returning the sorted keys and the permutation from sorted
// position back to original input index.
func (t *Octree) sortKeys(ptsScaled []float32) (sortedKeys, sortedIdx []uint32) {
	depth := t.info.Depth()
	bound := float32(int32(1) << depth)
	npt := len(ptsScaled) / 3

	// pack (key << 32) | index so one sort orders both
	code := make([]uint64, npt)
	utils.ParallelFor(npt, func(i int) {
		var pt [3]uint32
		for j := 0; j < 3; j++ {
			v := ptsScaled[3*i+j]
			switch {
			case v < 0:
				pt[j] = 0
			case v >= bound:
				pt[j] = uint32(bound) - 1
			default:
				pt[j] = uint32(v)
			}
		}
		key := Key(pt[0], pt[1], pt[2], depth)
		code[i] = uint64(key)<<32 | uint64(i)
	})

	sort.Slice(code, func(i, j int) bool { return code[i] < code[j] })

	sortedKeys = make([]uint32, npt)
	sortedIdx = make([]uint32, npt)
	utils.ParallelFor(npt, func(i int) {
		sortedIdx[i] = uint32(code[i])
		sortedKeys[i] = uint32(code[i] >> 32)
	})
	return sortedKeys, sortedIdx
}

// uniqueKey collapses runs of identical keys in place. idx[t] is the position
// of the first occurrence of unique key t in the input; the final entry is the
// input length.
func uniqueKey(keys []uint32) (unique, idx []uint32) {
	n := len(keys)
	idx = make([]uint32, 0, n+1)
	idx = append(idx, 0)

	j := 1
	for i := 1; i < n; i++ {
		if keys[i] != keys[i-1] {
			idx = append(idx, uint32(i))
			keys[j] = keys[i]
			j++
		}
	}
	if n == 0 {
		j = 0
	}
	idx = append(idx, uint32(n))
	return keys[:j], idx
}

// buildStructure materializes keys and child pointers for every level from
// the distinct leaf keys: dense layers up to the full layer, then a reverse
// pass from the finest level that expands every parent into a full octet of
// sibling slots.
func (t *Octree) buildStructure(nodeKeys []uint32) {
	depth := t.info.Depth()
	fullLayer := t.info.FullLayer()

	// layer 0 to fullLayer: the octree is dense in these layers
	for d := 0; d <= fullLayer; d++ {
		n := 1 << (3 * d)
		keys := make([]uint32, n)
		children := make([]int32, n)
		for i := 0; i < n; i++ {
			keys[i] = uint32(i)
			if d != fullLayer {
				children[i] = int32(i)
			} else {
				children[i] = leaf
			}
		}
		t.keys[d] = keys
		t.children[d] = children
	}

	// layer depth down to fullLayer+1
	for d := depth; d > fullLayer; d-- {
		n := len(nodeKeys)
		parentKeys := make([]uint32, n)
		utils.ParallelFor(n, func(i int) {
			parentKeys[i] = nodeKeys[i] >> 3
		})

		parentKeys, parentPidx := uniqueKey(parentKeys)

		// augment children keys and create nodes
		np := len(parentKeys)
		nch := np << 3
		children := make([]int32, nch)
		keys := make([]uint32, nch)
		for i := 0; i < nch; i++ {
			children[i] = leaf
			keys[i] = parentKeys[i>>3]<<3 | uint32(i%8)
		}

		// base address of each node's sibling octet
		addr := make([]uint32, n)
		for i := 0; i < np; i++ {
			for j := parentPidx[i]; j < parentPidx[i+1]; j++ {
				addr[j] = uint32(i) << 3
			}
		}

		utils.ParallelFor(n, func(i int) {
			k := nodeKeys[i]&7 | addr[i]
			children[k] = int32(i)
		})

		t.keys[d] = keys
		t.children[d] = children
		nodeKeys = parentKeys
	}

	// nodeKeys now names the occupied slots of the full layer
	if depth > fullLayer {
		for i, k := range nodeKeys {
			t.children[fullLayer][k] = int32(i)
		}
	}
}

// calcNodeNum records per-level node counts and non-empty counts into the
// descriptor and refreshes the serialized pointer displacements.
func (t *Octree) calcNodeNum() {
	depth := t.info.Depth()

	nnum := make([]int32, depth+1)
	for d := 0; d <= depth; d++ {
		nnum[d] = int32(len(t.keys[d]))
	}

	nempty := make([]int32, depth+1)
	for d := 0; d <= depth; d++ {
		children := t.children[d]
		// the last child pointer names the non-empty node count
		for i := len(children) - 1; i >= 0; i-- {
			if children[i] != leaf {
				nempty[d] = children[i] + 1
				break
			}
		}
	}

	t.info.setNodeNum(nnum, nempty)
}
