// Package mcube holds the marching-cubes geometric primitives consumed by the
// octree builder.
package mcube

// cubeCorner[i] is the offset of the i-th corner of a unit cube from its base.
var cubeCorner = [8][3]float32{
	{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
}

// cubeEdge lists the corner pairs forming the 12 edges of a cube.
var cubeEdge = [12][2]int{
	{0, 1}, {2, 3}, {4, 5}, {6, 7},
	{0, 2}, {1, 3}, {4, 6}, {5, 7},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// IntersectCube computes the intersection of the plane passing through pt with
// normal n and the unit cube based at ptBase. The intersection vertices are
// returned flattened as [x0,y0,z0,x1,y1,z1,...]; the slice is empty when the
// plane misses the cube or n is the zero vector. Pure function of its inputs.
func IntersectCube(pt, ptBase, n []float32) []float32 {
	// signed distance of each corner to the plane
	var dist [8]float32
	degenerate := true
	for c := 0; c < 3; c++ {
		if n[c] != 0 {
			degenerate = false
		}
	}
	if degenerate {
		return nil
	}
	for i := 0; i < 8; i++ {
		var d float32
		for c := 0; c < 3; c++ {
			d += (ptBase[c] + cubeCorner[i][c] - pt[c]) * n[c]
		}
		dist[i] = d
	}

	var vtx []float32
	for _, e := range cubeEdge {
		da, db := dist[e[0]], dist[e[1]]
		if (da <= 0 && db > 0) || (da > 0 && db <= 0) {
			t := da / (da - db)
			a, b := cubeCorner[e[0]], cubeCorner[e[1]]
			for c := 0; c < 3; c++ {
				vtx = append(vtx, ptBase[c]+a[c]+t*(b[c]-a[c]))
			}
		}
	}
	return vtx
}
