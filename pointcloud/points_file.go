package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/chenzhekl/goply"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// MagicStr identifies the binary points container format.
const MagicStr = "_POINTS_1.0_"

// infoHeader is the fixed little-endian header of a .points file. PtrDis holds
// the byte offset of each property block from the start of the file.
type infoHeader struct {
	Magic        [16]byte
	PtNum        int32
	ContentFlags int32
	Channels     [8]int32
	PtrDis       [8]int32
}

const infoHeaderSize = 16 + 4 + 4 + 8*4 + 8*4

// Write serializes the cloud into the binary .points container.
func (p *Points) Write(w io.Writer) error {
	var hdr infoHeader
	copy(hdr.Magic[:], MagicStr)
	hdr.PtNum = p.info.ptNum
	hdr.ContentFlags = p.info.contentFlags
	copy(hdr.Channels[:], p.info.channels[:])
	hdr.PtrDis[0] = infoHeaderSize
	for i := 1; i <= numProps; i++ {
		hdr.PtrDis[i] = hdr.PtrDis[i-1] + 4*hdr.Channels[i-1]*hdr.PtNum
	}
	hdr.PtrDis[7] = hdr.PtrDis[numProps]

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	for _, block := range [][]float32{p.pts, p.normals, p.features, p.fpfh, p.roughness, p.labels} {
		if len(block) == 0 {
			continue
		}
		if err := binary.Write(w, binary.LittleEndian, block); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes the binary .points container to the given path.
func (p *Points) WriteFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := p.Write(w); err != nil {
		return err
	}
	return w.Flush()
}

// Read parses a binary .points container.
func Read(r io.Reader) (*Points, error) {
	var hdr infoHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, err
	}
	var magic [16]byte
	copy(magic[:], MagicStr)
	if hdr.Magic != magic {
		return nil, errors.Errorf("the version of points format is not %s", MagicStr)
	}
	if hdr.PtNum <= 0 {
		return nil, errors.Errorf("invalid point count %d", hdr.PtNum)
	}

	read := func(i int) ([]float32, error) {
		n := int(hdr.Channels[i]) * int(hdr.PtNum)
		if n == 0 {
			return nil, nil
		}
		block := make([]float32, n)
		if err := binary.Read(r, binary.LittleEndian, block); err != nil {
			return nil, err
		}
		return block, nil
	}

	blocks := make([][]float32, numProps)
	for i := 0; i < numProps; i++ {
		block, err := read(i)
		if err != nil {
			return nil, err
		}
		blocks[i] = block
	}
	return New(blocks[0], blocks[1], blocks[2], blocks[3], blocks[4], blocks[5])
}

// ReadFile reads a binary .points container from the given path.
func ReadFile(fn string) (*Points, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return Read(bufio.NewReader(f))
}

// WritePLY writes the points and normals as an ASCII PLY mesh-less cloud.
func (p *Points) WritePLY(w io.Writer) error {
	npt := p.Len()
	hasNormal := p.info.HasProperty(PropNormal)

	if _, err := fmt.Fprintf(w, "ply\nformat ascii 1.0\nelement vertex %d\n"+
		"property float x\nproperty float y\nproperty float z\n", npt); err != nil {
		return err
	}
	if hasNormal {
		if _, err := fmt.Fprint(w, "property float nx\nproperty float ny\nproperty float nz\n"); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(w, "end_header\n"); err != nil {
		return err
	}

	for i := 0; i < npt; i++ {
		i3 := 3 * i
		if hasNormal {
			_, err := fmt.Fprintf(w, "%f %f %f %f %f %f\n",
				p.pts[i3], p.pts[i3+1], p.pts[i3+2],
				p.normals[i3], p.normals[i3+1], p.normals[i3+2])
			if err != nil {
				return err
			}
		} else if _, err := fmt.Fprintf(w, "%f %f %f\n", p.pts[i3], p.pts[i3+1], p.pts[i3+2]); err != nil {
			return err
		}
	}
	return nil
}

// WritePLYFile writes the cloud as ASCII PLY to the given path.
func (p *Points) WritePLYFile(fn string) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := p.WritePLY(w); err != nil {
		return err
	}
	return w.Flush()
}

func plyFloat(v interface{}) float32 {
	switch t := v.(type) {
	case float32:
		return t
	case float64:
		return float32(t)
	case int:
		return float32(t)
	default:
		return 0
	}
}

// ReadPLY parses a PLY cloud, picking up vertex positions and, when present,
// nx/ny/nz normals. Clouds without normals are rejected since the octree
// builder needs an oriented input.
func ReadPLY(r io.Reader, logger golog.Logger) (*Points, error) {
	ply := goply.New(r)
	vertices := ply.Elements("vertex")
	if len(vertices) == 0 {
		return nil, errors.New("ply file contains no vertices")
	}

	_, hasNormal := vertices[0]["nx"]
	if !hasNormal {
		logger.Warn("ply file carries no normals; the cloud is rejected")
	}

	pts := make([]float32, 0, 3*len(vertices))
	var normals []float32
	if hasNormal {
		normals = make([]float32, 0, 3*len(vertices))
	}
	for _, v := range vertices {
		pts = append(pts, plyFloat(v["x"]), plyFloat(v["y"]), plyFloat(v["z"]))
		if hasNormal {
			normals = append(normals, plyFloat(v["nx"]), plyFloat(v["ny"]), plyFloat(v["nz"]))
		}
	}
	return New(pts, normals, nil, nil, nil, nil)
}

// ReadPLYFile reads a PLY cloud from the given path.
func ReadPLYFile(fn string, logger golog.Logger) (*Points, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return ReadPLY(bufio.NewReader(f), logger)
}
