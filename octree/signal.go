package octree

import (
	"math"

	"github.com/Jian-Lu-gis/O-CNN-AS/mcube"
	"github.com/Jian-Lu-gis/O-CNN-AS/pointcloud"
	"github.com/Jian-Lu-gis/O-CNN-AS/utils"
)

func sqrt32(v float32) float32 {
	return float32(math.Sqrt(float64(v)))
}

// dispMul rescales displacements so their magnitude is bounded by 1 across any
// cell orientation (2 / sqrt(3)).
const dispMul = 1.1547005

// calcSignalLeaf averages the per-point signals into the occupied cells of the
// finest level. Cell membership comes from the sorted order: leaf cell t owns
// the points sortedIdx[uniqueIdx[t]:uniqueIdx[t+1]].
func (t *Octree) calcSignalLeaf(pts *pointcloud.Points, ptsScaled []float32, sortedIdx, uniqueIdx []uint32) {
	depth := t.info.Depth()
	nnum := t.info.NodeNum(depth)
	children := t.children[depth]

	normals := pts.Normals()
	if len(normals) != 0 {
		channel := pts.Info().Channel(pointcloud.PropNormal)
		out := make([]float32, channel*nnum)

		utils.ParallelFor(nnum, func(i int) {
			cell := children[i]
			if cell == leaf {
				return
			}

			avg := make([]float32, channel)
			for j := uniqueIdx[cell]; j < uniqueIdx[cell+1]; j++ {
				h := int(sortedIdx[j])
				for c := 0; c < channel; c++ {
					avg[c] += normals[channel*h+c]
				}
			}

			factor := float32(esp)
			for c := 0; c < channel; c++ {
				factor += avg[c] * avg[c]
			}
			factor = sqrt32(factor)
			for c := 0; c < channel; c++ {
				out[c*nnum+i] = avg[c] / factor
			}
		})
		t.avgNormals[depth] = out
	}

	// features, FPFH descriptors and roughness all average the same way
	meanSignal := func(src []float32, channel int) []float32 {
		out := make([]float32, channel*nnum)
		utils.ParallelFor(nnum, func(i int) {
			cell := children[i]
			if cell == leaf {
				return
			}

			avg := make([]float32, channel)
			for j := uniqueIdx[cell]; j < uniqueIdx[cell+1]; j++ {
				h := int(sortedIdx[j])
				for c := 0; c < channel; c++ {
					avg[c] += src[channel*h+c]
				}
			}

			factor := float32(uniqueIdx[cell+1]-uniqueIdx[cell]) + esp
			for c := 0; c < channel; c++ {
				out[c*nnum+i] = avg[c] / factor
			}
		})
		return out
	}

	if features := pts.Features(); len(features) != 0 {
		t.avgFeatures[depth] = meanSignal(features, pts.Info().Channel(pointcloud.PropFeature))
	}
	if fpfh := pts.FPFH(); len(fpfh) != 0 {
		t.avgFPFH[depth] = meanSignal(fpfh, pts.Info().Channel(pointcloud.PropFPFH))
	}
	if roughness := pts.Roughness(); len(roughness) != 0 {
		t.avgRoughness[depth] = meanSignal(roughness, pts.Info().Channel(pointcloud.PropRoughness))
	}

	if labels := pts.Labels(); len(labels) != 0 {
		out := make([]float32, nnum)
		for i := range out {
			out[i] = -1
		}
		maxLabel := float32(0)
		for _, l := range labels {
			if l > maxLabel {
				maxLabel = l
			}
		}
		t.maxLabel = int(maxLabel) + 1

		utils.ParallelFor(nnum, func(i int) {
			cell := children[i]
			if cell == leaf {
				return
			}

			hist := make([]int, t.maxLabel)
			for j := uniqueIdx[cell]; j < uniqueIdx[cell+1]; j++ {
				hist[int(labels[sortedIdx[j]])]++
			}
			best := 0
			for l := 1; l < len(hist); l++ {
				if hist[l] > hist[best] {
					best = l
				}
			}
			out[i] = float32(best)
		})
		t.avgLabels[depth] = out
	}

	if t.info.HasDisplace() && len(normals) != 0 {
		const channel = 3
		avgPts := make([]float32, channel*nnum)
		dis := make([]float32, nnum)

		utils.ParallelFor(nnum, func(i int) {
			cell := children[i]
			if cell == leaf {
				return
			}

			var avgPt [3]float32
			for j := uniqueIdx[cell]; j < uniqueIdx[cell+1]; j++ {
				h := int(sortedIdx[j])
				for c := 0; c < 3; c++ {
					avgPt[c] += ptsScaled[3*h+c]
				}
			}

			var d float32
			factor := float32(uniqueIdx[cell+1]-uniqueIdx[cell]) + esp
			for c := 0; c < 3; c++ {
				avgPt[c] /= factor

				fract := avgPt[c] - float32(math.Floor(float64(avgPt[c])))
				d += (fract - 0.5) * t.avgNormals[depth][c*nnum+i]

				avgPts[c*nnum+i] = avgPt[c]
			}
			dis[i] = d * dispMul
		})
		t.avgPts[depth] = avgPts
		t.displacement[depth] = dis
	}
}

// coveredDepthNodes fills, bottom-up, the range of finest-level slots covered
// by the subtree under every node: dnum counts them, didx names the first one
// (-1 for empty subtrees).
func (t *Octree) coveredDepthNodes() {
	depth := t.info.Depth()
	for d := 0; d <= depth; d++ {
		nnum := t.info.NodeNum(d)
		t.dnum[d] = make([]int32, nnum)
		t.didx[d] = make([]int32, nnum)
		for i := 0; i < nnum; i++ {
			t.didx[d][i] = -1
		}
	}

	nnum := t.info.NodeNum(depth)
	for i := 0; i < nnum; i++ {
		t.dnum[depth][i] = 1
		t.didx[depth][i] = int32(i)
	}

	// at depth-1 the eight covered slots sit contiguously at the child block
	nnum = t.info.NodeNum(depth - 1)
	for i := 0; i < nnum; i++ {
		c := t.children[depth-1][i]
		if c == leaf {
			continue
		}
		t.dnum[depth-1][i] = 8
		t.didx[depth-1][i] = c * 8
	}

	for d := depth - 2; d >= 0; d-- {
		nnum = t.info.NodeNum(d)
		for i := 0; i < nnum; i++ {
			c := t.children[d][i]
			if c == leaf {
				continue
			}
			base := c * 8
			for j := int32(0); j < 8; j++ {
				t.dnum[d][i] += t.dnum[d+1][base+j]
			}
			for j := int32(0); j < 8; j++ {
				if t.didx[d+1][base+j] != -1 {
					t.didx[d][i] = t.didx[d+1][base+j]
					break
				}
			}
		}
	}
}

// calcSignalUpper propagates the finest-level signals to every coarser level
// by averaging over each node's covered leaf range, and, in adaptive mode,
// estimates how well a single oriented plane approximates each subtree.
func (t *Octree) calcSignalUpper(calcNormalErr, calcDistErr bool) {
	depth := t.info.Depth()
	depthAdp := t.info.AdaptiveLayer()
	nnumDepth := t.info.NodeNum(depth)
	childrenDepth := t.children[depth]
	normalDepth := t.avgNormals[depth]
	ptDepth := t.avgPts[depth]
	featureDepth := t.avgFeatures[depth]
	fpfhDepth := t.avgFPFH[depth]
	roughnessDepth := t.avgRoughness[depth]
	labelDepth := t.avgLabels[depth]

	channelNormal := len(normalDepth) / nnumDepth
	channelPt := len(ptDepth) / nnumDepth
	channelFeature := len(featureDepth) / nnumDepth
	channelFPFH := len(fpfhDepth) / nnumDepth
	channelRoughness := len(roughnessDepth) / nnumDepth

	hasNormal := len(normalDepth) != 0
	hasPt := len(ptDepth) != 0
	hasDis := len(t.displacement[depth]) != 0
	hasFeature := len(featureDepth) != 0
	hasFPFH := len(fpfhDepth) != 0
	hasRoughness := len(roughnessDepth) != 0
	hasLabel := len(labelDepth) != 0

	if calcNormalErr {
		t.normalErr[depth] = sentinelArray(nnumDepth, errNotMeasured)
	}
	if calcDistErr {
		t.distanceErr[depth] = sentinelArray(nnumDepth, errNotMeasured)
	}

	for d := depth - 1; d >= 0; d-- {
		dnum := t.dnum[d]
		didx := t.didx[d]
		children := t.children[d]
		keys := t.keys[d]
		scale := float32(int32(1) << (depth - d))

		nnum := t.info.NodeNum(d)
		if hasNormal {
			t.avgNormals[d] = make([]float32, nnum*channelNormal)
		}
		if hasPt {
			t.avgPts[d] = make([]float32, nnum*channelPt)
		}
		if hasFeature {
			t.avgFeatures[d] = make([]float32, nnum*channelFeature)
		}
		if hasFPFH {
			t.avgFPFH[d] = make([]float32, nnum*channelFPFH)
		}
		if hasRoughness {
			t.avgRoughness[d] = make([]float32, nnum*channelRoughness)
		}
		if hasLabel {
			t.avgLabels[d] = sentinelArray(nnum, -1)
		}
		if hasDis {
			t.displacement[d] = make([]float32, nnum)
		}
		if calcNormalErr {
			t.normalErr[d] = sentinelArray(nnum, errNotMeasured)
		}
		if calcDistErr {
			t.distanceErr[d] = sentinelArray(nnum, errNotMeasured)
		}

		normalD := t.avgNormals[d]
		ptD := t.avgPts[d]
		featureD := t.avgFeatures[d]
		fpfhD := t.avgFPFH[d]
		roughnessD := t.avgRoughness[d]
		labelD := t.avgLabels[d]
		displacementD := t.displacement[d]
		normalErrD := t.normalErr[d]
		distanceErrD := t.distanceErr[d]

		utils.ParallelFor(nnum, func(i int) {
			if children[i] == leaf {
				return
			}
			from, to := didx[i], didx[i]+dnum[i]

			nAvg := make([]float32, channelNormal)
			if hasNormal {
				for j := from; j < to; j++ {
					if childrenDepth[j] == leaf {
						continue
					}
					for c := 0; c < channelNormal; c++ {
						nAvg[c] += normalDepth[c*nnumDepth+int(j)]
					}
				}

				length := float32(esp)
				for c := 0; c < channelNormal; c++ {
					length += nAvg[c] * nAvg[c]
				}
				length = sqrt32(length)
				for c := 0; c < channelNormal; c++ {
					nAvg[c] /= length
					normalD[c*nnum+i] = nAvg[c]
				}
			}

			// non-empty leaves under this node
			count := float32(esp)
			for j := from; j < to; j++ {
				if childrenDepth[j] != leaf {
					count++
				}
			}

			ptAvg := make([]float32, channelPt)
			if hasPt {
				for j := from; j < to; j++ {
					if childrenDepth[j] == leaf {
						continue
					}
					for c := 0; c < channelPt; c++ {
						ptAvg[c] += ptDepth[c*nnumDepth+int(j)]
					}
				}
				for c := 0; c < channelPt; c++ {
					// re-express the point in level-d cell units
					ptAvg[c] /= count * scale
					ptD[c*nnum+i] = ptAvg[c]
				}
			}

			meanOver := func(src []float32, dst []float32, channel int) {
				for j := from; j < to; j++ {
					if childrenDepth[j] == leaf {
						continue
					}
					for c := 0; c < channel; c++ {
						dst[c*nnum+i] += src[c*nnumDepth+int(j)]
					}
				}
				for c := 0; c < channel; c++ {
					dst[c*nnum+i] /= count
				}
			}
			if hasFeature {
				meanOver(featureDepth, featureD, channelFeature)
			}
			if hasFPFH {
				meanOver(fpfhDepth, fpfhD, channelFPFH)
			}
			if hasRoughness {
				meanOver(roughnessDepth, roughnessD, channelRoughness)
			}

			if hasLabel {
				hist := make([]int, t.maxLabel)
				for j := from; j < to; j++ {
					if childrenDepth[j] == leaf {
						continue
					}
					hist[int(labelDepth[j])]++
				}
				best := 0
				for l := 1; l < len(hist); l++ {
					if hist[l] > hist[best] {
						best = l
					}
				}
				labelD[i] = float32(best)
			}

			xu, yu, zu := KeyToXYZ(keys[i], d)
			ptBase := [3]float32{float32(xu), float32(yu), float32(zu)}
			if hasDis {
				var disAvg float32
				for c := 0; c < 3; c++ {
					fract := ptAvg[c] - ptBase[c]
					disAvg += (fract - 0.5) * nAvg[c]
				}
				displacementD[i] = disAvg * dispMul
			}

			if calcNormalErr && hasNormal && d >= depthAdp {
				var nmErr float32
				for j := from; j < to; j++ {
					if childrenDepth[j] == leaf {
						continue
					}
					for c := 0; c < 3; c++ {
						diff := normalDepth[c*nnumDepth+int(j)] - nAvg[c]
						nmErr += diff * diff
					}
				}
				normalErrD[i] = nmErr / count
			}

			if calcDistErr && hasPt && d >= depthAdp {
				// deviation of the original geometry from the averaged plane
				distanceMax1 := float32(-1)
				ptAvg1 := [3]float32{ptAvg[0] * scale, ptAvg[1] * scale, ptAvg[2] * scale}
				for j := from; j < to; j++ {
					if childrenDepth[j] == leaf {
						continue
					}
					var dis float32
					for c := 0; c < 3; c++ {
						dis += (ptDepth[c*nnumDepth+int(j)] - ptAvg1[c]) * nAvg[c]
					}
					if dis < 0 {
						dis = -dis
					}
					if dis > distanceMax1 {
						distanceMax1 = dis
					}
				}

				// deviation of the averaged plane from the original geometry
				distanceMax2 := float32(-1)
				vtx := mcube.IntersectCube(ptAvg, ptBase[:], nAvg)
				if len(vtx) == 0 {
					distanceMax2 = errDegenerate
				}
				for k := range vtx {
					vtx[k] *= scale
				}
				for k := 0; k < len(vtx)/3; k++ {
					distanceMin := float32(1.0e30)
					for j := from; j < to; j++ {
						if childrenDepth[j] == leaf {
							continue
						}
						var dis float32
						for c := 0; c < 3; c++ {
							diff := ptDepth[c*nnumDepth+int(j)] - vtx[3*k+c]
							dis += diff * diff
						}
						dis = sqrt32(dis)
						if dis < distanceMin {
							distanceMin = dis
						}
					}
					if distanceMin > distanceMax2 {
						distanceMax2 = distanceMin
					}
				}

				if distanceMax1 > distanceMax2 {
					distanceErrD[i] = distanceMax1
				} else {
					distanceErrD[i] = distanceMax2
				}
			}
		})
	}
}

// calcSplitLabel tags every node: 1 for a non-sentinel child pointer (internal
// nodes, and occupied nodes of the finest level), 0 empty leaf, and, in
// adaptive mode, 2 for a leaf retaining a surface approximation (non-zero
// normal).
func (t *Octree) calcSplitLabel() {
	depth := t.info.Depth()
	adaptive := t.info.IsAdaptive()

	for d := 0; d <= depth; d++ {
		nnum := t.info.NodeNum(d)
		t.splitLabels[d] = sentinelArray(nnum, 1)
		for i := 0; i < nnum; i++ {
			if t.children[d][i] != leaf {
				continue
			}
			t.splitLabels[d][i] = 0
			if normals := t.avgNormals[d]; adaptive && len(normals) >= 3*nnum {
				s := abs32(normals[i]) + abs32(normals[nnum+i]) + abs32(normals[2*nnum+i])
				if s != 0 {
					t.splitLabels[d][i] = 2
				}
			}
		}
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func sentinelArray(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}
