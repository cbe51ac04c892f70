package octree

import (
	"github.com/pkg/errors"

	"github.com/Jian-Lu-gis/O-CNN-AS/pointcloud"
)

// dispInv converts a stored displacement back into cell units (sqrt(3) / 2).
const dispInv = 0.8660254

// ToPoints reconstructs an oriented point set from the nodes of the levels in
// [depthStart, depthEnd] that carry a non-zero normal. Each point sits at its
// cell center, moved along the normal by the stored displacement, and is
// mapped back into the configured bounding box.
func (t *Octree) ToPoints(depthStart, depthEnd int) (*pointcloud.Points, error) {
	depth := t.info.Depth()
	if depthStart < 0 {
		depthStart = 0
	}
	if depthEnd > depth {
		depthEnd = depth
	}
	if depthStart > depthEnd {
		return nil, errors.Errorf("empty depth range [%d, %d]", depthStart, depthEnd)
	}

	bbmin := t.info.BBMin()
	width := float64(t.info.BBoxMaxWidth())
	if width <= 1.0e-9 {
		// no bounding box recorded (narrow wire form): emit in the frame of
		// the finest-level cells
		width = float64(uint32(1) << depth)
	}

	var pts, normals []float32
	for d := depthStart; d <= depthEnd; d++ {
		nnum := t.info.NodeNum(d)
		norm := t.avgNormals[d]
		if len(norm) < 3*nnum || nnum == 0 {
			continue
		}
		scale := width / float64(uint32(1)<<d)
		hasDis := len(t.displacement[d]) == nnum

		for i := 0; i < nnum; i++ {
			n := [3]float32{norm[i], norm[nnum+i], norm[2*nnum+i]}
			if abs32(n[0])+abs32(n[1])+abs32(n[2]) == 0 {
				continue
			}

			x, y, z := KeyToXYZ(t.keys[d][i], d)
			pos := [3]float32{float32(x) + 0.5, float32(y) + 0.5, float32(z) + 0.5}
			if hasDis {
				dis := t.displacement[d][i] * dispInv
				for c := 0; c < 3; c++ {
					pos[c] += dis * n[c]
				}
			}

			pts = append(pts,
				float32(float64(pos[0])*scale+bbmin.X),
				float32(float64(pos[1])*scale+bbmin.Y),
				float32(float64(pos[2])*scale+bbmin.Z))
			normals = append(normals, n[0], n[1], n[2])
		}
	}
	if len(pts) == 0 {
		return nil, errors.Errorf("no surface nodes in depth range [%d, %d]", depthStart, depthEnd)
	}
	return pointcloud.New(pts, normals, nil, nil, nil, nil)
}
