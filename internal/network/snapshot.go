package network

import (
	"encoding/gob"
	"fmt"
	"io"
)

type layerBlob struct {
	Rows int
	Cols int
	W    []float64
	B    []float64
}

// Snapshot is the opaque serialized form of a parameter list, written with
// encoding/gob. Layers are stored in registration order, so a snapshot only
// round-trips between identically constructed networks.
type Snapshot struct {
	Layers []layerBlob
}

// EncodeParams writes the given layers as a gob snapshot.
func EncodeParams(w io.Writer, params []*Dense) error {
	snap := Snapshot{Layers: make([]layerBlob, len(params))}
	for i, p := range params {
		r, c := p.W.Dims()
		blob := layerBlob{Rows: r, Cols: c, W: make([]float64, r*c), B: make([]float64, r)}
		for row := 0; row < r; row++ {
			for col := 0; col < c; col++ {
				blob.W[row*c+col] = p.W.At(row, col)
			}
			blob.B[row] = p.B.AtVec(row)
		}
		snap.Layers[i] = blob
	}
	return gob.NewEncoder(w).Encode(snap)
}

// DecodeParams reads a gob snapshot into the given layers, which must match
// the snapshot's layer count and shapes.
func DecodeParams(r io.Reader, params []*Dense) error {
	var snap Snapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return fmt.Errorf("decoding parameter snapshot: %w", err)
	}
	if len(snap.Layers) != len(params) {
		return fmt.Errorf("snapshot has %d layers, network has %d", len(snap.Layers), len(params))
	}
	for i, blob := range snap.Layers {
		p := params[i]
		rows, cols := p.W.Dims()
		if blob.Rows != rows || blob.Cols != cols {
			return fmt.Errorf("snapshot layer %d is %dx%d, network layer is %dx%d",
				i, blob.Rows, blob.Cols, rows, cols)
		}
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				p.W.Set(row, col, blob.W[row*cols+col])
			}
			p.B.SetVec(row, blob.B[row])
		}
	}
	return nil
}
