package placement

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/tensor"
)

// InputBatch holds the host arrays of one relationship-detection batch.
// Ix1, Ix2 and Indices index into other arrays; everything else is feature
// data.
type InputBatch struct {
	ImData       *tensor.RawTensor // images [N,C,H,W]
	Boxes        *tensor.RawTensor
	RelBoxes     *tensor.RawTensor
	SpatialFea   *tensor.RawTensor
	ClassesEmbed *tensor.RawTensor
	Ix1          *tensor.RawTensor
	Ix2          *tensor.RawTensor
	AttrBoxes    *tensor.RawTensor
	ObjEmbedded  *tensor.RawTensor
	Indices      *tensor.RawTensor
}

// PlacedBatch is an InputBatch on a device.
type PlacedBatch struct {
	ImData       *Placed
	Boxes        *Placed
	RelBoxes     *Placed
	SpatialFea   *Placed
	ClassesEmbed *Placed
	Ix1          *Placed
	Ix2          *Placed
	AttrBoxes    *Placed
	ObjEmbedded  *Placed
	Indices      *Placed
}

type batchField struct {
	name  string
	dtype tensor.DataType
	src   *tensor.RawTensor
	dst   **Placed
}

// batchKeys are the archive names read by ReadBatch, in field order.
var batchKeys = [...]string{
	"im_data", "boxes", "rel_boxes", "spatial_fea", "classes_embed",
	"ix1", "ix2", "attr_boxes", "obj_embedded", "indices",
}

func (b *InputBatch) fields(out *PlacedBatch) []batchField {
	return []batchField{
		{batchKeys[0], tensor.Float32, b.ImData, &out.ImData},
		{batchKeys[1], tensor.Float32, b.Boxes, &out.Boxes},
		{batchKeys[2], tensor.Float32, b.RelBoxes, &out.RelBoxes},
		{batchKeys[3], tensor.Float32, b.SpatialFea, &out.SpatialFea},
		{batchKeys[4], tensor.Float32, b.ClassesEmbed, &out.ClassesEmbed},
		{batchKeys[5], tensor.Int64, b.Ix1, &out.Ix1},
		{batchKeys[6], tensor.Int64, b.Ix2, &out.Ix2},
		{batchKeys[7], tensor.Float32, b.AttrBoxes, &out.AttrBoxes},
		{batchKeys[8], tensor.Float32, b.ObjEmbedded, &out.ObjEmbedded},
		{batchKeys[9], tensor.Int64, b.Indices, &out.Indices},
	}
}

// maxConcurrentFields bounds how many batch fields are cast and placed at once.
const maxConcurrentFields = 4

// ToDevice places every array of b: Ix1, Ix2 and Indices as int64, the rest
// as float32. Every field must be set. Fields are placed concurrently; on
// error nothing stays placed.
func (b *InputBatch) ToDevice(p Placement) (*PlacedBatch, error) {
	out := &PlacedBatch{}
	fields := b.fields(out)
	for _, f := range fields {
		if f.src == nil {
			return nil, errors.Errorf("placement: batch field %s is not set", f.name)
		}
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentFields)
	for _, f := range fields {
		g.Go(func() error {
			placed, err := ToDevice(f.src, f.dtype, p)
			if err != nil {
				return errors.WithMessagef(err, "placement: batch field %s", f.name)
			}
			*f.dst = placed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		out.Release()
		return nil, err
	}
	return out, nil
}

// Release frees every placed array.
func (pb *PlacedBatch) Release() {
	for _, p := range []*Placed{
		pb.ImData, pb.Boxes, pb.RelBoxes, pb.SpatialFea, pb.ClassesEmbed,
		pb.Ix1, pb.Ix2, pb.AttrBoxes, pb.ObjEmbedded, pb.Indices,
	} {
		p.Release()
	}
}

// ReadBatch reads an InputBatch from a .npz archive with entries im_data,
// boxes, rel_boxes, spatial_fea, classes_embed, ix1, ix2, attr_boxes,
// obj_embedded and indices.
func ReadBatch(path string) (*InputBatch, error) {
	sd, err := serialization.ReadNpz(path)
	if err != nil {
		return nil, err
	}
	get := func(name string) (*tensor.RawTensor, error) {
		raw, ok := sd.Get(name)
		if !ok {
			return nil, errors.Errorf("placement: %s: missing %q", path, name)
		}
		return raw, nil
	}

	var b InputBatch
	dsts := []**tensor.RawTensor{
		&b.ImData, &b.Boxes, &b.RelBoxes, &b.SpatialFea, &b.ClassesEmbed,
		&b.Ix1, &b.Ix2, &b.AttrBoxes, &b.ObjEmbedded, &b.Indices,
	}
	for i, name := range batchKeys {
		raw, err := get(name)
		if err != nil {
			return nil, err
		}
		*dsts[i] = raw
	}
	return &b, nil
}
