// weights.go - Weight shard reconstruction from a model manifest

package handwriting

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Source reads model files by the relative names used in model.json.
type Source interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

// DirSource reads model files from a directory on disk.
type DirSource struct {
	Root string
}

func (s DirSource) Load(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(name)))
}

// LoadArtifact reads and parses the topology file from src.
func LoadArtifact(ctx context.Context, src Source, name string) (*ModelArtifact, error) {
	data, err := src.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return ParseModelArtifact(data)
}

// LoadWeights concatenates every shard of every manifest group in order and
// slices the result into named tensors following the weight specs in order.
func LoadWeights(ctx context.Context, src Source, manifest []WeightGroup) (map[string]*Tensor, error) {
	var buf bytes.Buffer
	var specs []WeightSpec
	for _, group := range manifest {
		specs = append(specs, group.Weights...)
		for _, path := range group.Paths {
			shard, err := src.Load(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("read weight shard %s: %w", path, err)
			}
			buf.Write(shard)
		}
	}

	data := buf.Bytes()
	weights := make(map[string]*Tensor, len(specs))
	offset := 0
	for _, spec := range specs {
		n := shapeSize(spec.Shape)
		size := n * 4
		if offset+size > len(data) {
			return nil, fmt.Errorf("weight %s needs %d bytes at offset %d, shards hold %d", spec.Name, size, offset, len(data))
		}
		t := &Tensor{Shape: append([]int(nil), spec.Shape...), Data: make([]float32, n)}
		raw := data[offset : offset+size]
		switch spec.DType {
		case "", "float32":
			for i := range t.Data {
				t.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
			}
		case "int32":
			for i := range t.Data {
				t.Data[i] = float32(int32(binary.LittleEndian.Uint32(raw[i*4:])))
			}
		default:
			return nil, fmt.Errorf("weight %s has unsupported dtype %q", spec.Name, spec.DType)
		}
		weights[spec.Name] = t
		offset += size
	}
	return weights, nil
}
