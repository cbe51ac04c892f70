package octree

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/Jian-Lu-gis/O-CNN-AS/pointcloud"
)

func unitBox(info *Info) {
	info.SetBBox(r3.Vector{}, r3.Vector{X: 1, Y: 1, Z: 1})
}

func buildTree(t *testing.T, cfg Config, pts *pointcloud.Points) *Octree {
	t.Helper()
	info, err := NewInfo(cfg, pts)
	test.That(t, err, test.ShouldBeNil)
	unitBox(info)

	tree := &Octree{}
	test.That(t, tree.Build(info, pts), test.ShouldBeNil)
	return tree
}

// checkInvariants verifies the structural invariants that hold for every
// successfully built octree.
func checkInvariants(t *testing.T, tree *Octree) {
	t.Helper()
	info := tree.Info()
	depth := info.Depth()
	fullLayer := info.FullLayer()

	for d := 0; d <= depth; d++ {
		keys := tree.Keys(d)
		children := tree.Children(d)
		test.That(t, len(children), test.ShouldEqual, len(keys))

		if d <= fullLayer {
			test.That(t, len(keys), test.ShouldEqual, 1<<(3*d))
			for i, k := range keys {
				test.That(t, k, test.ShouldEqual, uint32(i))
			}
		} else {
			test.That(t, len(keys)%8, test.ShouldEqual, 0)
			for i, k := range keys {
				test.That(t, k&7, test.ShouldEqual, uint32(i%8))
			}
		}

		if d < depth {
			next := int32(len(tree.Keys(d+1)) / 8)
			prev := int32(-1)
			for _, c := range children {
				if c == -1 {
					continue
				}
				test.That(t, c, test.ShouldBeGreaterThanOrEqualTo, int32(0))
				test.That(t, c, test.ShouldBeLessThan, next)
				test.That(t, c, test.ShouldBeGreaterThan, prev)
				prev = c
			}
		}
	}

	// coverage ranges partition the finest level
	if tree.dnum[0] != nil {
		for d := 0; d < depth; d++ {
			var sum int32
			for i := range tree.dnum[d] {
				sum += tree.dnum[d][i]
				test.That(t, tree.didx[d][i] == -1, test.ShouldEqual, tree.dnum[d][i] == 0)
				if d > fullLayer {
					// below the dense layers, empty slots and leaves coincide
					test.That(t, tree.dnum[d][i] == 0, test.ShouldEqual, tree.Children(d)[i] == -1)
				}
			}
			test.That(t, sum, test.ShouldEqual, int32(len(tree.Keys(depth))))
		}
	}
}

func TestBuildCoincidentPoints(t *testing.T) {
	// two coincident points at the origin of the unit cube
	pts, err := pointcloud.New(
		[]float32{0, 0, 0, 0, 0, 0},
		[]float32{0, 0, 1, 0, 0, 1},
		nil, nil, nil, nil,
	)
	test.That(t, err, test.ShouldBeNil)

	tree := buildTree(t, Config{Depth: 2, FullDepth: 0, NodeDisplacement: true, SplitLabel: true}, pts)
	checkInvariants(t, tree)

	test.That(t, len(tree.Keys(0)), test.ShouldEqual, 1)
	test.That(t, len(tree.Keys(1)), test.ShouldEqual, 8)
	test.That(t, len(tree.Keys(2)), test.ShouldEqual, 8)

	// exactly one occupied leaf, at position 0
	occupied := 0
	for i, c := range tree.Children(2) {
		if c != -1 {
			occupied++
			test.That(t, i, test.ShouldEqual, 0)
		}
	}
	test.That(t, occupied, test.ShouldEqual, 1)

	nnum := len(tree.Keys(2))
	test.That(t, tree.AvgNormals(2)[0*nnum+0], test.ShouldEqual, float32(0))
	test.That(t, tree.AvgNormals(2)[1*nnum+0], test.ShouldEqual, float32(0))
	test.That(t, tree.AvgNormals(2)[2*nnum+0], test.ShouldAlmostEqual, 1, 1e-4)

	test.That(t, tree.Displacement(2)[0], test.ShouldAlmostEqual, -0.5*1.1547005, 1e-4)
}

func TestBuildOnePointPerOctant(t *testing.T) {
	pts := make([]float32, 0, 24)
	normals := make([]float32, 0, 24)
	for x := 0; x < 2; x++ {
		for y := 0; y < 2; y++ {
			for z := 0; z < 2; z++ {
				pts = append(pts, 0.25+0.5*float32(x), 0.25+0.5*float32(y), 0.25+0.5*float32(z))
				n := r3.Vector{X: float64(x) - 0.5, Y: float64(y) - 0.5, Z: float64(z) - 0.5}.Normalize()
				normals = append(normals, float32(n.X), float32(n.Y), float32(n.Z))
			}
		}
	}
	cloud, err := pointcloud.New(pts, normals, nil, nil, nil, nil)
	test.That(t, err, test.ShouldBeNil)

	tree := buildTree(t, Config{Depth: 1, FullDepth: 0, SplitLabel: true}, cloud)
	checkInvariants(t, tree)

	test.That(t, tree.Children(0)[0], test.ShouldEqual, int32(0))
	for _, c := range tree.Children(1) {
		test.That(t, c, test.ShouldNotEqual, int32(-1))
	}
	test.That(t, tree.SplitLabels(0)[0], test.ShouldEqual, float32(1))
	// every occupied finest-level node is tagged non-empty
	for _, s := range tree.SplitLabels(1) {
		test.That(t, s, test.ShouldEqual, float32(1))
	}
}

func TestBuildSinglePoint(t *testing.T) {
	pts, err := pointcloud.New(
		[]float32{0.6, 0.3, 0.8},
		[]float32{1, 0, 0},
		nil, nil, nil, nil,
	)
	test.That(t, err, test.ShouldBeNil)

	tree := buildTree(t, Config{Depth: 4, FullDepth: 2, NodeFeature: true}, pts)
	checkInvariants(t, tree)

	test.That(t, len(tree.Keys(2)), test.ShouldEqual, 64)
	test.That(t, len(tree.Keys(4)), test.ShouldEqual, 8)

	// every internal path leads to exactly one occupied leaf
	test.That(t, tree.dnum[0][0], test.ShouldEqual, int32(8))
	occupied := 0
	for _, c := range tree.Children(4) {
		if c != -1 {
			occupied++
		}
	}
	test.That(t, occupied, test.ShouldEqual, 1)
}

func TestBuildAllPointsInOneCell(t *testing.T) {
	raw := make([]float32, 0, 30)
	normals := make([]float32, 0, 30)
	for i := 0; i < 10; i++ {
		raw = append(raw, 0.01+0.001*float32(i), 0.01, 0.01)
		normals = append(normals, 0, 1, 0)
	}
	cloud, err := pointcloud.New(raw, normals, nil, nil, nil, nil)
	test.That(t, err, test.ShouldBeNil)

	tree := buildTree(t, Config{Depth: 3, FullDepth: 1, NodeFeature: true}, cloud)
	checkInvariants(t, tree)

	occupied := 0
	for _, c := range tree.Children(3) {
		if c != -1 {
			occupied++
		}
	}
	test.That(t, occupied, test.ShouldEqual, 1)
	test.That(t, tree.dnum[0][0], test.ShouldEqual, int32(8))
}

func TestBuildCoordinateClamping(t *testing.T) {
	// a point exactly at bbmax lands in the last cell, not one past it
	pts, err := pointcloud.New(
		[]float32{1, 1, 1},
		[]float32{0, 0, 1},
		nil, nil, nil, nil,
	)
	test.That(t, err, test.ShouldBeNil)

	tree := buildTree(t, Config{Depth: 2, FullDepth: 0}, pts)
	checkInvariants(t, tree)

	want := Key(3, 3, 3, 2)
	found := false
	for i, k := range tree.Keys(2) {
		if k == want && tree.Children(2)[i] != -1 {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

func TestBuildDegenerateBBox(t *testing.T) {
	pts, err := pointcloud.New(
		[]float32{0.5, 0.5, 0.5, 0.5, 0.5, 0.5},
		[]float32{0, 0, 1, 0, 0, 1},
		nil, nil, nil, nil,
	)
	test.That(t, err, test.ShouldBeNil)

	info, err := NewInfo(Config{Depth: 3, FullDepth: 1}, pts)
	test.That(t, err, test.ShouldBeNil)
	center := r3.Vector{X: 0.5, Y: 0.5, Z: 0.5}
	info.SetBBox(center, center)

	tree := &Octree{}
	test.That(t, tree.Build(info, pts), test.ShouldBeNil)
	checkInvariants(t, tree)

	occupied := 0
	for _, c := range tree.Children(3) {
		if c != -1 {
			occupied++
		}
	}
	test.That(t, occupied, test.ShouldEqual, 1)
}

func TestBuildEmptyCloud(t *testing.T) {
	info, err := NewInfo(Config{Depth: 2, FullDepth: 2, SplitLabel: true}, nil)
	test.That(t, err, test.ShouldBeNil)
	unitBox(info)

	tree := &Octree{}
	test.That(t, tree.Build(info, nil), test.ShouldBeNil)

	for _, c := range tree.Children(2) {
		test.That(t, c, test.ShouldEqual, int32(-1))
	}
	for _, s := range tree.SplitLabels(2) {
		test.That(t, s, test.ShouldEqual, float32(0))
	}
	test.That(t, len(tree.Buffer()), test.ShouldEqual, tree.Info().SizeofOctree())
	_, err = ParseBuffer(tree.Buffer())
	test.That(t, err, test.ShouldBeNil)
}

func TestBuildDeterministic(t *testing.T) {
	cloud := planarCloud(t, 8, 0.45)

	cfg := Config{Depth: 3, FullDepth: 1, NodeFeature: true, NodeDisplacement: true, SplitLabel: true}
	a := buildTree(t, cfg, cloud)
	b := buildTree(t, cfg, cloud)

	test.That(t, a.Buffer(), test.ShouldResemble, b.Buffer())
	for d := 0; d <= 3; d++ {
		test.That(t, a.Keys(d), test.ShouldResemble, b.Keys(d))
		test.That(t, a.Children(d), test.ShouldResemble, b.Children(d))
		test.That(t, a.AvgNormals(d), test.ShouldResemble, b.AvgNormals(d))
		test.That(t, a.Displacement(d), test.ShouldResemble, b.Displacement(d))
	}
}

func TestBuildNormalRenormalization(t *testing.T) {
	cloud := planarCloud(t, 8, 0.45)

	tree := buildTree(t, Config{Depth: 3, FullDepth: 1, NodeFeature: true}, cloud)
	checkInvariants(t, tree)

	for d := 0; d <= 3; d++ {
		normals := tree.AvgNormals(d)
		nnum := len(tree.Keys(d))
		if len(normals) == 0 {
			continue
		}
		for i := 0; i < nnum; i++ {
			nx := float64(normals[i])
			ny := float64(normals[nnum+i])
			nz := float64(normals[2*nnum+i])
			length := math.Sqrt(nx*nx + ny*ny + nz*nz)
			if length == 0 {
				continue // empty node
			}
			test.That(t, length, test.ShouldAlmostEqual, 1, 1e-4)
		}
	}
}

// planarCloud builds an n-by-n grid on the plane z=height inside the unit
// cube, all normals +z.
func planarCloud(t *testing.T, n int, height float32) *pointcloud.Points {
	t.Helper()
	pts := make([]float32, 0, 3*n*n)
	normals := make([]float32, 0, 3*n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			pts = append(pts, (float32(i)+0.5)/float32(n), (float32(j)+0.5)/float32(n), height)
			normals = append(normals, 0, 0, 1)
		}
	}
	cloud, err := pointcloud.New(pts, normals, nil, nil, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	return cloud
}
