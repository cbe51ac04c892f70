package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// CenterAbout translates the cloud so that the given point becomes the origin.
func (p *Points) CenterAbout(center r3.Vector) {
	c := [3]float32{float32(center.X), float32(center.Y), float32(center.Z)}
	for i := 0; i < len(p.pts); i += 3 {
		p.pts[i] -= c[0]
		p.pts[i+1] -= c[1]
		p.pts[i+2] -= c[2]
	}
}

// Displace moves every point by dis along its normal.
func (p *Points) Displace(dis float32) error {
	if len(p.normals) == 0 {
		return errors.New("cannot displace a cloud without normals")
	}
	for i := 0; i < len(p.pts); i++ {
		p.pts[i] += dis * p.normals[i]
	}
	return nil
}

// Rotate rotates points and normals by angle (radians) about the given axis.
func (p *Points) Rotate(angle float64, axis r3.Vector) error {
	if axis.Norm() == 0 {
		return errors.New("cannot rotate about a zero axis")
	}
	u := axis.Normalize()
	s, c := math.Sincos(angle * 0.5)
	q := quat.Number{Real: c, Imag: s * u.X, Jmag: s * u.Y, Kmag: s * u.Z}

	rotate := func(arr []float32) {
		for i := 0; i < len(arr); i += 3 {
			v := quat.Number{Imag: float64(arr[i]), Jmag: float64(arr[i+1]), Kmag: float64(arr[i+2])}
			r := quat.Mul(quat.Mul(q, v), quat.Conj(q))
			arr[i] = float32(r.Imag)
			arr[i+1] = float32(r.Jmag)
			arr[i+2] = float32(r.Kmag)
		}
	}
	rotate(p.pts)
	if len(p.normals) != 0 {
		rotate(p.normals)
	}
	return nil
}

// Transform applies a 4x4 homogeneous transformation to points (w = 1) and its
// rotation part to normals (w = 0).
func (p *Points) Transform(m mat.Matrix) error {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return errors.Errorf("expected a 4x4 transformation, got %dx%d", r, c)
	}
	apply := func(arr []float32, w float64) {
		for i := 0; i < len(arr); i += 3 {
			x, y, z := float64(arr[i]), float64(arr[i+1]), float64(arr[i+2])
			arr[i] = float32(m.At(0, 0)*x + m.At(0, 1)*y + m.At(0, 2)*z + m.At(0, 3)*w)
			arr[i+1] = float32(m.At(1, 0)*x + m.At(1, 1)*y + m.At(1, 2)*z + m.At(1, 3)*w)
			arr[i+2] = float32(m.At(2, 0)*x + m.At(2, 1)*y + m.At(2, 2)*z + m.At(2, 3)*w)
		}
	}
	apply(p.pts, 1)
	if len(p.normals) != 0 {
		apply(p.normals, 0)
	}
	return nil
}
