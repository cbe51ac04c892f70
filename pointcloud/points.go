// Package pointcloud defines an oriented point cloud: points with per-point
// normals and optional auxiliary signals (features, FPFH descriptors,
// roughness, labels), plus its binary container format.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PropType enumerates the per-point properties a cloud may carry.
type PropType int32

// The supported point properties. Values double as bits of the content flags
// in the binary container.
const (
	PropPoint PropType = 1 << iota
	PropNormal
	PropFeature
	PropFPFH
	PropRoughness
	PropLabel
)

const numProps = 6

// Info describes the per-property channel widths of a Points value.
type Info struct {
	ptNum        int32
	contentFlags int32
	channels     [numProps]int32
}

func propertyIndex(ptype PropType) int {
	for i := 0; i < numProps; i++ {
		if ptype&(1<<i) != 0 {
			return i
		}
	}
	return 0
}

// PtNum returns the number of points.
func (i *Info) PtNum() int { return int(i.ptNum) }

// HasProperty reports whether the given property is present.
func (i *Info) HasProperty(ptype PropType) bool {
	return i.contentFlags&int32(ptype) != 0
}

// Channel returns the channel width of the given property, 0 if absent.
func (i *Info) Channel(ptype PropType) int {
	if !i.HasProperty(ptype) {
		return 0
	}
	return int(i.channels[propertyIndex(ptype)])
}

func (i *Info) setChannel(ptype PropType, ch int) {
	idx := propertyIndex(ptype)
	if ch > 0 {
		i.channels[idx] = int32(ch)
		i.contentFlags |= int32(ptype)
	} else {
		i.channels[idx] = 0
		i.contentFlags &^= int32(ptype)
	}
}

// Points is an immutable-by-convention container of an oriented point cloud.
// The builder only reads it. Displace returns an error when normals are
// absent; Rotate and Transform then transform the points alone.
type Points struct {
	info      Info
	pts       []float32
	normals   []float32
	features  []float32
	fpfh      []float32
	roughness []float32
	labels    []float32
}

// New creates a Points value from flat float32 arrays. pts must be non-empty
// with 3 channels; normals and features must not both be absent; labels carry
// a single channel.
func New(pts, normals, features, fpfh, roughness, labels []float32) (*Points, error) {
	if len(pts) == 0 || len(pts)%3 != 0 {
		return nil, errors.Errorf("invalid point array length %d", len(pts))
	}
	npt := len(pts) / 3
	if len(normals) == 0 && len(features) == 0 {
		return nil, errors.New("normals and features must not be empty at the same time")
	}
	if len(normals) != 0 && len(normals) != 3*npt {
		return nil, errors.Errorf("normal array length %d does not match %d points", len(normals), npt)
	}
	for _, arr := range [][]float32{features, fpfh, roughness} {
		if len(arr)%npt != 0 {
			return nil, errors.Errorf("auxiliary array length %d is not a multiple of %d points", len(arr), npt)
		}
	}
	if len(labels) != 0 && len(labels) != npt {
		return nil, errors.Errorf("label array length %d does not match %d points", len(labels), npt)
	}

	p := &Points{
		pts:       pts,
		normals:   normals,
		features:  features,
		fpfh:      fpfh,
		roughness: roughness,
		labels:    labels,
	}
	p.info.ptNum = int32(npt)
	p.info.setChannel(PropPoint, 3)
	p.info.setChannel(PropNormal, len(normals)/npt)
	p.info.setChannel(PropFeature, len(features)/npt)
	p.info.setChannel(PropFPFH, len(fpfh)/npt)
	p.info.setChannel(PropRoughness, len(roughness)/npt)
	p.info.setChannel(PropLabel, len(labels)/npt)
	return p, nil
}

// Len returns the number of points.
func (p *Points) Len() int { return p.info.PtNum() }

// Info returns the property descriptor.
func (p *Points) Info() *Info { return &p.info }

// Pts returns the flat xyz array, length 3*Len().
func (p *Points) Pts() []float32 { return p.pts }

// Normals returns the flat normal array, empty if absent.
func (p *Points) Normals() []float32 { return p.normals }

// Features returns the flat feature array, empty if absent.
func (p *Points) Features() []float32 { return p.features }

// FPFH returns the flat FPFH descriptor array, empty if absent.
func (p *Points) FPFH() []float32 { return p.fpfh }

// Roughness returns the flat roughness array, empty if absent.
func (p *Points) Roughness() []float32 { return p.roughness }

// Labels returns the per-point label array, empty if absent.
func (p *Points) Labels() []float32 { return p.labels }

// Position returns the i-th point.
func (p *Points) Position(i int) r3.Vector {
	return r3.Vector{
		X: float64(p.pts[3*i]),
		Y: float64(p.pts[3*i+1]),
		Z: float64(p.pts[3*i+2]),
	}
}

// Bounds returns the center of the axis-aligned bounding box of the cloud and
// half the length of its longest side.
func (p *Points) Bounds() (r3.Vector, float64) {
	bbmin := r3.Vector{X: math.MaxFloat64, Y: math.MaxFloat64, Z: math.MaxFloat64}
	bbmax := bbmin.Mul(-1)
	for i := 0; i < p.Len(); i++ {
		v := p.Position(i)
		bbmin = r3.Vector{X: math.Min(bbmin.X, v.X), Y: math.Min(bbmin.Y, v.Y), Z: math.Min(bbmin.Z, v.Z)}
		bbmax = r3.Vector{X: math.Max(bbmax.X, v.X), Y: math.Max(bbmax.Y, v.Y), Z: math.Max(bbmax.Z, v.Z)}
	}
	center := bbmin.Add(bbmax).Mul(0.5)
	ext := bbmax.Sub(bbmin)
	radius := math.Max(ext.X, math.Max(ext.Y, ext.Z)) * 0.5
	return center, radius
}
