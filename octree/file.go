package octree

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// Save writes the sequential on-wire form: node counts, packed (x,y,z,level)
// keys and child pointers for all levels, then the finest-level averaged
// normals, displacements and labels. This is the narrow export; Buffer holds
// the full property layout.
func (t *Octree) Save(w io.Writer) error {
	depth := t.info.Depth()
	fullLayer := t.info.FullLayer()

	nodeNum := make([]int32, depth+1)
	for d := 0; d <= depth; d++ {
		nodeNum[d] = int32(len(t.keys[d]))
	}
	nodeNumAccu := make([]int32, depth+2)
	for d := 1; d < depth+2; d++ {
		nodeNumAccu[d] = nodeNumAccu[d-1] + nodeNum[d-1]
	}
	totalNodeNum := nodeNumAccu[depth+1]
	finalNodeNum := nodeNum[depth]

	key := make([]int32, totalNodeNum)
	children := make([]int32, totalNodeNum)
	idx := 0
	for d := 0; d <= depth; d++ {
		for i, k := range t.keys[d] {
			x, y, z := KeyToXYZ(k, d)
			key[idx] = int32(x&0xff | (y&0xff)<<8 | (z&0xff)<<16 | uint32(d)<<24)
			children[idx] = t.children[d][i]
			idx++
		}
	}

	for _, v := range []interface{}{
		totalNodeNum, finalNodeNum, int32(depth), int32(fullLayer),
		nodeNum, nodeNumAccu, key, children,
		t.avgNormals[depth], t.displacement[depth], t.avgLabels[depth],
	} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

// SaveFile writes the on-wire form to the given path.
func (t *Octree) SaveFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := t.Save(w); err != nil {
		return err
	}
	return w.Flush()
}

// ReadWire restores an octree from the on-wire form. The reconstructed value
// carries keys and children for every level and the finest-level signals the
// export retains.
func ReadWire(r io.Reader) (*Octree, error) {
	var totalNodeNum, finalNodeNum, depth32, fullLayer32 int32
	for _, v := range []*int32{&totalNodeNum, &finalNodeNum, &depth32, &fullLayer32} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	depth, fullLayer := int(depth32), int(fullLayer32)
	if totalNodeNum < 0 || finalNodeNum < 0 {
		return nil, errors.New("negative node count in octree stream")
	}
	if depth < 1 || depth > maxDepth {
		return nil, errors.Errorf("octree depth %d out of range [1, %d]", depth, maxDepth)
	}
	if fullLayer < 0 || fullLayer > depth {
		return nil, errors.Errorf("octree full layer %d out of range [0, %d]", fullLayer, depth)
	}

	nodeNum := make([]int32, depth+1)
	nodeNumAccu := make([]int32, depth+2)
	key := make([]int32, totalNodeNum)
	children := make([]int32, totalNodeNum)
	for _, v := range []interface{}{nodeNum, nodeNumAccu, key, children} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	if nodeNumAccu[depth+1] != totalNodeNum || nodeNum[depth] != finalNodeNum {
		return nil, errors.New("inconsistent node counts in octree stream")
	}

	t := &Octree{}
	t.clear(depth)
	idx := 0
	for d := 0; d <= depth; d++ {
		n := int(nodeNum[d])
		t.keys[d] = make([]uint32, n)
		t.children[d] = make([]int32, n)
		for i := 0; i < n; i++ {
			k := uint32(key[idx])
			t.keys[d][i] = Key(k&0xff, k>>8&0xff, k>>16&0xff, d)
			t.children[d][i] = children[idx]
			idx++
		}
	}

	// the trailing float blocks are optional; partition whatever remains
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(rest)%4 != 0 {
		return nil, errors.Errorf("trailing octree payload of %d bytes is not float-aligned", len(rest))
	}
	floats := make([]float32, len(rest)/4)
	if len(floats) > 0 {
		if err := binary.Read(bytes.NewReader(rest), binary.LittleEndian, floats); err != nil {
			return nil, err
		}
	}
	final := int(finalNodeNum)
	take := func(n int) []float32 {
		if len(floats) < n {
			return nil
		}
		block := floats[:n]
		floats = floats[n:]
		return block
	}
	t.avgNormals[depth] = take(3 * final)
	t.displacement[depth] = take(final)
	t.avgLabels[depth] = take(final)

	// rebuild a descriptor for the narrow form
	copy(t.info.w.Magic[:], MagicStr)
	t.info.w.BatchSize = 1
	t.info.w.Depth = int32(depth)
	t.info.w.FullLayer = int32(fullLayer)
	t.info.w.AdpLayer = int32(depth)
	t.info.setProperty(PropKey, 1, locAll)
	t.info.setProperty(PropChild, 1, locAll)
	featureChannel := 0
	if t.avgNormals[depth] != nil {
		featureChannel += 3
	}
	if t.displacement[depth] != nil {
		featureChannel++
		t.info.w.HasDisplace = 1
	}
	if featureChannel > 0 {
		t.info.setProperty(PropFeature, featureChannel, depth)
	}
	if t.avgLabels[depth] != nil {
		t.info.setProperty(PropLabel, 1, depth)
	}
	t.calcNodeNum()
	return t, nil
}

// ReadWireFile reads the on-wire form from the given path.
func ReadWireFile(fn string) (*Octree, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return ReadWire(bufio.NewReader(f))
}
