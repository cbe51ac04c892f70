package octree

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// serialize lays the descriptor and the property blocks out in one contiguous
// little-endian buffer: header, keys, children, features (normals,
// displacement, features, FPFH, roughness concatenated per level), labels,
// split tags. Offsets follow the descriptor's pointer displacements.
func (t *Octree) serialize() {
	buf := make([]byte, t.info.SizeofOctree())
	hdr, err := t.info.MarshalBinary()
	if err != nil {
		// the wire struct contains only fixed-size fields; Write cannot fail
		panic(err)
	}
	copy(buf, hdr)

	depth := t.info.Depth()
	features := make([][]float32, depth+1)
	for d := 0; d <= depth; d++ {
		var f []float32
		f = append(f, t.avgNormals[d]...)
		f = append(f, t.displacement[d]...)
		f = append(f, t.avgFeatures[d]...)
		f = append(f, t.avgFPFH[d]...)
		f = append(f, t.avgRoughness[d]...)
		features[d] = f
	}

	if t.info.Key2XYZ() {
		t.putUint32(buf, PropKey, t.keyToXYZ())
	} else {
		t.putUint32(buf, PropKey, t.keys)
	}
	t.putInt32(buf, PropChild, t.children)
	t.putFloat32(buf, PropFeature, features)
	t.putFloat32(buf, PropLabel, t.avgLabels)
	t.putFloat32(buf, PropSplit, t.splitLabels)

	t.buffer = buf
}

func (t *Octree) blockLevels(ptype PropType) (from, to int) {
	if lc := t.info.Location(ptype); lc != locAll {
		return lc, lc
	}
	return 0, t.info.Depth()
}

func (t *Octree) putUint32(buf []byte, ptype PropType, src [][]uint32) {
	if !t.info.HasProperty(ptype) {
		return
	}
	off := t.info.PtrDis(ptype, 0)
	from, to := t.blockLevels(ptype)
	for d := from; d <= to; d++ {
		for _, v := range src[d] {
			binary.LittleEndian.PutUint32(buf[off:], v)
			off += 4
		}
	}
}

func (t *Octree) putInt32(buf []byte, ptype PropType, src [][]int32) {
	if !t.info.HasProperty(ptype) {
		return
	}
	off := t.info.PtrDis(ptype, 0)
	from, to := t.blockLevels(ptype)
	for d := from; d <= to; d++ {
		for _, v := range src[d] {
			binary.LittleEndian.PutUint32(buf[off:], uint32(v))
			off += 4
		}
	}
}

func (t *Octree) putFloat32(buf []byte, ptype PropType, src [][]float32) {
	if !t.info.HasProperty(ptype) {
		return
	}
	off := t.info.PtrDis(ptype, 0)
	from, to := t.blockLevels(ptype)
	for d := from; d <= to; d++ {
		for _, v := range src[d] {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
}

// keyToXYZ re-expresses every key as explicit cell coordinates: one word of
// (x,y,z,level) bytes per node, or two words of uint16 coordinates when a
// coordinate would overflow a byte.
func (t *Octree) keyToXYZ() [][]uint32 {
	depth := t.info.Depth()
	channel := t.info.Channel(PropKey)
	xyz := make([][]uint32, depth+1)
	for d := 0; d <= depth; d++ {
		nnum := t.info.NodeNum(d)
		out := make([]uint32, nnum*channel)
		for i := 0; i < nnum; i++ {
			x, y, z := KeyToXYZ(t.keys[d][i], d)
			if channel == 1 {
				out[i] = x&0xff | (y&0xff)<<8 | (z&0xff)<<16 | uint32(d)<<24
			} else {
				out[2*i] = x&0xffff | (y&0xffff)<<16
				out[2*i+1] = z & 0xffff
			}
		}
		xyz[d] = out
	}
	return xyz
}

// ParseBuffer validates a serialized octree buffer and returns its descriptor.
// Property blocks can then be located with Info.PtrDis.
func ParseBuffer(buf []byte) (*Info, error) {
	info := &Info{}
	if err := info.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	if err := info.CheckFormat(); err != nil {
		return nil, err
	}
	if len(buf) < info.SizeofOctree() {
		return nil, errors.Errorf("serialized octree needs %d bytes, got %d", info.SizeofOctree(), len(buf))
	}
	return info, nil
}
