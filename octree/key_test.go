package octree

import (
	"testing"

	"go.viam.com/test"
)

func TestKeyRoundTrip(t *testing.T) {
	x, y, z := KeyToXYZ(Key(13, 7, 29, 5), 5)
	test.That(t, x, test.ShouldEqual, uint32(13))
	test.That(t, y, test.ShouldEqual, uint32(7))
	test.That(t, z, test.ShouldEqual, uint32(29))
}

func TestKeyParentShift(t *testing.T) {
	child := Key(13, 7, 29, 5)
	parent := Key(13>>1, 7>>1, 29>>1, 4)
	test.That(t, child>>3, test.ShouldEqual, parent)
}

func TestKeySlotIndex(t *testing.T) {
	// the low three bits are the slot among the eight siblings: x, y, z
	test.That(t, Key(1, 0, 0, 1), test.ShouldEqual, uint32(4))
	test.That(t, Key(0, 1, 0, 1), test.ShouldEqual, uint32(2))
	test.That(t, Key(0, 0, 1, 1), test.ShouldEqual, uint32(1))
	test.That(t, Key(1, 1, 1, 1), test.ShouldEqual, uint32(7))
}

func TestKeyExhaustiveSmallDepth(t *testing.T) {
	for x := uint32(0); x < 8; x++ {
		for y := uint32(0); y < 8; y++ {
			for z := uint32(0); z < 8; z++ {
				gx, gy, gz := KeyToXYZ(Key(x, y, z, 3), 3)
				test.That(t, gx, test.ShouldEqual, x)
				test.That(t, gy, test.ShouldEqual, y)
				test.That(t, gz, test.ShouldEqual, z)
			}
		}
	}
}

func TestKeyDenseOrdering(t *testing.T) {
	for x := uint32(0); x < 2; x++ {
		for y := uint32(0); y < 2; y++ {
			for z := uint32(0); z < 2; z++ {
				test.That(t, Key(x, y, z, 1), test.ShouldEqual, x<<2|y<<1|z)
			}
		}
	}
}
