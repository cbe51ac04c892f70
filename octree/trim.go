package octree

type trimType uint8

const (
	trimDrop trimType = iota
	trimDropChildren
	trimKeep
)

// trimOctree removes subtrees whose geometry is well approximated by their
// parent's averaged plane: a child whose errors fall under both thresholds
// becomes a leaf (its own children drop), and everything below a dropped node
// drops with it. Each level in the adaptive range keeps at least one internal
// node. Node counts, split labels and the serialized buffer are rebuilt
// afterwards.
func (t *Octree) trimOctree() {
	if !t.info.IsAdaptive() {
		return
	}
	depth := t.info.Depth()
	depthAdp := t.info.AdaptiveLayer()
	if depthAdp < 1 {
		// trimming works per parent, so the root level itself cannot drop
		depthAdp = 1
	}
	thDist := t.info.ThresholdDist()
	thNorm := t.info.ThresholdNorm()
	hasDis := t.info.HasDisplace()

	// without error metrics (the upper-level pass did not run) there is
	// nothing to judge
	if len(t.normalErr[depth]) == 0 {
		return
	}

	drop := make([][]trimType, depth+1)
	for d := 0; d <= depth; d++ {
		drop[d] = make([]trimType, t.info.NodeNum(d))
		for i := range drop[d] {
			drop[d][i] = trimKeep
		}
	}

	for d := depthAdp; d <= depth; d++ {
		nnumDp := t.info.NodeNum(d - 1)
		childrenD := t.children[d]
		childrenDp := t.children[d-1]
		dropD := drop[d]
		dropDp := drop[d-1]

		allDrop := true
		for i := 0; i < nnumDp; i++ {
			c := childrenDp[i]
			if c == leaf {
				continue
			}

			for j := int32(0); j < 8; j++ {
				idx := c*8 + j
				if dropDp[i] == trimKeep {
					// leaves and finest-level nodes hold the not-measured
					// sentinel (1e20), so with thresholds at or below it only
					// internal nodes can pass this test
					if (!hasDis || t.distanceErr[d][idx] < thDist) &&
						t.normalErr[d][idx] < thNorm {
						dropD[idx] = trimDropChildren
					}
				} else {
					dropD[idx] = trimDrop
				}

				if allDrop {
					allDrop = !(dropD[idx] == trimKeep && childrenD[idx] != leaf)
				}
			}
		}

		// keep at least one internal node in each layer: undo the drop of the
		// candidate with the largest normal error
		if allDrop {
			maxIdx := int32(0)
			maxErr := float32(-1)
			for i := 0; i < nnumDp; i++ {
				c := childrenDp[i]
				if c == leaf || dropDp[i] != trimKeep {
					continue
				}
				for j := int32(0); j < 8; j++ {
					idx := c*8 + j
					if childrenD[idx] != leaf && t.normalErr[d][idx] > maxErr {
						maxErr = t.normalErr[d][idx]
						maxIdx = idx
					}
				}
			}
			if len(dropD) > 0 {
				dropD[maxIdx] = trimKeep
			}
		}
	}

	for d := depthAdp; d <= depth; d++ {
		nnumD := t.info.NodeNum(d)
		dropD := drop[d]

		keys := make([]uint32, 0, nnumD)
		for i := 0; i < nnumD; i++ {
			if dropD[i] == trimDrop {
				continue
			}
			keys = append(keys, t.keys[d][i])
		}
		t.keys[d] = keys

		children := make([]int32, 0, nnumD)
		id := int32(0)
		for i := 0; i < nnumD; i++ {
			if dropD[i] == trimDrop {
				continue
			}
			ch := int32(leaf)
			if dropD[i] == trimKeep && t.children[d][i] != leaf {
				ch = id
				id++
			}
			children = append(children, ch)
		}
		t.children[d] = children

		// drop rows, then restore the channel-major layout for the new count
		trimData := func(signal []float32) []float32 {
			channel := len(signal) / nnumD
			if channel == 0 {
				return signal
			}
			data := make([]float32, 0, len(signal))
			for i := 0; i < nnumD; i++ {
				if dropD[i] == trimDrop {
					continue
				}
				for c := 0; c < channel; c++ {
					data = append(data, signal[c*nnumD+i])
				}
			}
			num := len(data) / channel
			out := make([]float32, len(data))
			for i := 0; i < num; i++ {
				for c := 0; c < channel; c++ {
					out[c*num+i] = data[i*channel+c]
				}
			}
			return out
		}

		t.displacement[d] = trimData(t.displacement[d])
		t.avgNormals[d] = trimData(t.avgNormals[d])
		t.avgFeatures[d] = trimData(t.avgFeatures[d])
		t.avgFPFH[d] = trimData(t.avgFPFH[d])
		t.avgRoughness[d] = trimData(t.avgRoughness[d])
		t.avgLabels[d] = trimData(t.avgLabels[d])
	}

	t.calcNodeNum()

	if t.info.HasProperty(PropSplit) {
		t.calcSplitLabel()
	}

	t.serialize()
}
