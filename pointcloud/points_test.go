package pointcloud

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func samplePoints(t *testing.T) *Points {
	t.Helper()
	pts, err := New(
		[]float32{0, 0, 0, 1, 2, 3, -1, -2, -3},
		[]float32{0, 0, 1, 0, 1, 0, 1, 0, 0},
		[]float32{0.5, 0.25, 0.5, 0.25, 0.5, 0.25},
		nil, nil,
		[]float32{0, 1, 1},
	)
	test.That(t, err, test.ShouldBeNil)
	return pts
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, nil, nil, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New([]float32{1, 2}, nil, nil, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	// normals and features must not both be absent
	_, err = New([]float32{1, 2, 3}, nil, nil, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New([]float32{1, 2, 3}, []float32{0, 0, 1, 0, 0, 1}, nil, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = New([]float32{1, 2, 3}, []float32{0, 0, 1}, nil, nil, nil, []float32{1, 2})
	test.That(t, err, test.ShouldNotBeNil)

	pts, err := New([]float32{1, 2, 3}, []float32{0, 0, 1}, nil, nil, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts.Len(), test.ShouldEqual, 1)
}

func TestInfoChannels(t *testing.T) {
	pts := samplePoints(t)
	info := pts.Info()
	test.That(t, info.PtNum(), test.ShouldEqual, 3)
	test.That(t, info.Channel(PropPoint), test.ShouldEqual, 3)
	test.That(t, info.Channel(PropNormal), test.ShouldEqual, 3)
	test.That(t, info.Channel(PropFeature), test.ShouldEqual, 2)
	test.That(t, info.Channel(PropFPFH), test.ShouldEqual, 0)
	test.That(t, info.Channel(PropLabel), test.ShouldEqual, 1)
	test.That(t, info.HasProperty(PropRoughness), test.ShouldBeFalse)
}

func TestBounds(t *testing.T) {
	pts := samplePoints(t)
	center, radius := pts.Bounds()
	test.That(t, center, test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 0})
	test.That(t, radius, test.ShouldEqual, 3.0)
}

func TestFileRoundTrip(t *testing.T) {
	pts := samplePoints(t)

	var buf bytes.Buffer
	test.That(t, pts.Write(&buf), test.ShouldBeNil)

	got, err := Read(bytes.NewReader(buf.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldResemble, pts)
}

func TestReadRejectsBadMagic(t *testing.T) {
	pts := samplePoints(t)
	var buf bytes.Buffer
	test.That(t, pts.Write(&buf), test.ShouldBeNil)

	raw := buf.Bytes()
	raw[0] = 'X'
	_, err := Read(bytes.NewReader(raw))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, MagicStr)
}

func TestWritePLY(t *testing.T) {
	pts := samplePoints(t)

	var buf bytes.Buffer
	test.That(t, pts.WritePLY(&buf), test.ShouldBeNil)

	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "element vertex 3")
	test.That(t, out, test.ShouldContainSubstring, "property float nx")
	test.That(t, strings.Count(out, "\n"), test.ShouldEqual, 12)
}

func TestReadPLY(t *testing.T) {
	logger := golog.NewTestLogger(t)
	ply := `ply
format ascii 1.0
element vertex 2
property float x
property float y
property float z
property float nx
property float ny
property float nz
end_header
0.5 0.25 0.125 0 0 1
1.5 1.25 1.125 1 0 0
`
	pts, err := ReadPLY(strings.NewReader(ply), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts.Len(), test.ShouldEqual, 2)
	test.That(t, pts.Pts()[0], test.ShouldEqual, float32(0.5))
	test.That(t, pts.Normals()[3], test.ShouldEqual, float32(1))
}

func TestCenterAbout(t *testing.T) {
	pts := samplePoints(t)
	pts.CenterAbout(r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, pts.Position(1), test.ShouldResemble, r3.Vector{})
}

func TestDisplace(t *testing.T) {
	pts := samplePoints(t)
	test.That(t, pts.Displace(2), test.ShouldBeNil)
	// the first point moves 2 along +z
	test.That(t, pts.Position(0), test.ShouldResemble, r3.Vector{X: 0, Y: 0, Z: 2})

	noNormals, err := New([]float32{1, 2, 3}, nil, []float32{1}, nil, nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, noNormals.Displace(1), test.ShouldNotBeNil)
}

func TestRotate(t *testing.T) {
	pts, err := New(
		[]float32{1, 0, 0},
		[]float32{1, 0, 0},
		nil, nil, nil, nil,
	)
	test.That(t, err, test.ShouldBeNil)

	// quarter turn about z sends +x to +y
	test.That(t, pts.Rotate(math.Pi/2, r3.Vector{Z: 1}), test.ShouldBeNil)
	p := pts.Position(0)
	test.That(t, p.X, test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, p.Y, test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, float64(pts.Normals()[1]), test.ShouldAlmostEqual, 1, 1e-6)

	test.That(t, pts.Rotate(1, r3.Vector{}), test.ShouldNotBeNil)
}

func TestTransform(t *testing.T) {
	pts, err := New(
		[]float32{1, 2, 3},
		[]float32{0, 0, 1},
		nil, nil, nil, nil,
	)
	test.That(t, err, test.ShouldBeNil)

	// pure translation: points move, normals stay
	m := mat.NewDense(4, 4, []float64{
		1, 0, 0, 10,
		0, 1, 0, 20,
		0, 0, 1, 30,
		0, 0, 0, 1,
	})
	test.That(t, pts.Transform(m), test.ShouldBeNil)
	test.That(t, pts.Position(0), test.ShouldResemble, r3.Vector{X: 11, Y: 22, Z: 33})
	test.That(t, pts.Normals()[2], test.ShouldEqual, float32(1))

	bad := mat.NewDense(3, 3, nil)
	test.That(t, pts.Transform(bad), test.ShouldNotBeNil)
}
