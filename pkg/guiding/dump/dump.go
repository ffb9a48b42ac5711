// Package dump writes the guiding cache to the binary, little-endian
// format a companion visualizer reads: a camera-matrix preamble followed
// by one record per spatial leaf with positive sample weight.
package dump

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"go-sdguide/pkg/core"
	"go-sdguide/pkg/guiding"
)

// CameraMatrix is a row-major 4x4 transform, serialized as 16 floats.
type CameraMatrix [16]float32

// RotatedForVisualizer returns m rotated 180 degrees around Y, the
// convention the visualizer's camera space expects.
func (m CameraMatrix) RotatedForVisualizer() CameraMatrix {
	// Post-multiplying by diag(-1,1,-1,1) negates columns 0 and 2 (the
	// right and forward basis vectors); up and position are untouched.
	out := m
	for row := 0; row < 4; row++ {
		out[row*4+0] = -m[row*4+0]
		out[row*4+2] = -m[row*4+2]
	}
	return out
}

// WriteToDisk writes the full dump for tree to path. I/O failures are
// logged as a warning and otherwise swallowed: a failed dump never aborts
// a render.
func WriteToDisk(path string, tree *guiding.SpatTree, camera CameraMatrix) {
	f, err := os.Create(path)
	if err != nil {
		logs.WithTag("path", path).Warn(err)
		return
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeAll(w, tree, camera); err != nil {
		logs.WithTag("path", path).Warn(err)
		return
	}
	if err := w.Flush(); err != nil {
		logs.WithTag("path", path).Warn(err)
	}
}

func writeAll(w io.Writer, tree *guiding.SpatTree, camera CameraMatrix) error {
	rotated := camera.RotatedForVisualizer()
	if err := binary.Write(w, binary.LittleEndian, rotated); err != nil {
		return err
	}

	for _, leaf := range tree.Leaves() {
		if leaf.DirTree.SampleWeight() <= 0 {
			continue
		}
		if err := writeLeaf(w, leaf); err != nil {
			return err
		}
	}
	return nil
}

func writeLeaf(w io.Writer, leaf guiding.SpatTreeLeaf) error {
	bboxMin := leaf.Bounds.Min
	extent := leaf.Bounds.Size()

	header := [6]float32{
		float32(bboxMin.X), float32(bboxMin.Y), float32(bboxMin.Z),
		float32(extent.X), float32(extent.Y), float32(extent.Z),
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}

	nodes, mean, sampleWeight, nodeCount := leaf.DirTree.DumpNodes()

	if err := binary.Write(w, binary.LittleEndian, float32(mean)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(sampleWeight)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(nodeCount)); err != nil {
		return err
	}

	for _, node := range nodes {
		for i := 0; i < 4; i++ {
			if err := binary.Write(w, binary.LittleEndian, float32(node.ChildSum[i])); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, uint16(node.ChildIndex[i])); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewCameraMatrixFromLookAt builds a row-major 4x4 view matrix from a
// world-space camera position and basis, the shape a caller without its
// own matrix type can hand to WriteToDisk.
func NewCameraMatrixFromLookAt(position, right, up, forward core.Vec3) CameraMatrix {
	return CameraMatrix{
		float32(right.X), float32(up.X), float32(forward.X), float32(position.X),
		float32(right.Y), float32(up.Y), float32(forward.Y), float32(position.Y),
		float32(right.Z), float32(up.Z), float32(forward.Z), float32(position.Z),
		0, 0, 0, 1,
	}
}
