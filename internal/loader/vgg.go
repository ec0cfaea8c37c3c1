package loader

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/tensor"
)

// Pair maps a fully connected block of the model to a legacy layer.
type Pair struct {
	Dest   string `yaml:"dest"`   // block prefix, e.g. "fc6.fc"
	Legacy string `yaml:"legacy"` // legacy layer, e.g. "fc6"
}

// DetectionPairs map fc6 and fc7 of the detection backbone.
var DetectionPairs = []Pair{
	{Dest: "fc6.fc", Legacy: "fc6"},
	{Dest: "fc7.fc", Legacy: "fc7"},
}

// ObjectPairs additionally initialize the object branch from fc6 and fc7.
var ObjectPairs = []Pair{
	{Dest: "fc6.fc", Legacy: "fc6"},
	{Dest: "fc7.fc", Legacy: "fc7"},
	{Dest: "fc6_obj.fc", Legacy: "fc6"},
	{Dest: "fc7_obj.fc", Legacy: "fc7"},
}

// Legacy conv kernels are [kh, kw, in, out]; models use [out, in, kh, kw].
var (
	convPermute = []int{3, 2, 0, 1}
	fcPermute   = []int{1, 0}
)

var convKeyRe = regexp.MustCompile(`^conv(\d+)\.(\d+)\.conv\.(weight|bias)$`)

// VGGTable builds the remap table for a VGG-style model.
//
// Every destination key that contains "conv" but neither "bn." nor "lo" is a
// convolution of stage i, block j ("conv<i>.<j>.conv.weight") and is fed by
// legacy layer "conv<i>_<j+1>": weights permuted HWIO to OIHW, biases as is.
// Then each pair adds "<dest>.weight" from "<legacy>/weights" transposed
// and "<dest>.bias" from "<legacy>/biases".
func VGGTable(destKeys []string, pairs []Pair) (RemapTable, error) {
	var table RemapTable
	for _, key := range destKeys {
		if !strings.Contains(key, "conv") || strings.Contains(key, "bn.") || strings.Contains(key, "lo") {
			continue
		}
		m := convKeyRe.FindStringSubmatch(key)
		if m == nil {
			return nil, errors.Errorf("vgg table: cannot map convolution key %q", key)
		}
		stage, _ := strconv.Atoi(m[1])
		block, _ := strconv.Atoi(m[2])
		src := Source{Key: "conv" + strconv.Itoa(stage) + "_" + strconv.Itoa(block+1)}
		if m[3] == "weight" {
			src.Field = FieldWeights
			src.Permute = convPermute
		} else {
			src.Field = FieldBiases
		}
		table = append(table, Entry{Dest: key, Source: src})
	}

	for _, p := range pairs {
		table = append(table,
			Entry{Dest: p.Dest + ".weight", Source: Source{Key: p.Legacy, Field: FieldWeights, Permute: fcPermute}},
			Entry{Dest: p.Dest + ".bias", Source: Source{Key: p.Legacy, Field: FieldBiases}},
		)
	}
	return table, nil
}

// LoadPretrainedNpy initializes m's convolutions and the fully connected
// blocks named by pairs from a legacy .npz archive.
func LoadPretrainedNpy[B tensor.Backend](path string, m nn.Module[B], pairs []Pair, opts ...Option) error {
	archive, err := ReadLegacyArchive(path)
	if err != nil {
		return err
	}

	dst := m.StateDict()
	table, err := VGGTable(dst.Keys(), pairs)
	if err != nil {
		return err
	}

	used, err := Apply(table, archive, dst, opts...)
	if err != nil {
		return errors.WithMessage(err, path)
	}
	klog.V(1).Infof("loaded %d arrays from %d legacy entries of %s", len(table), len(used), path)
	return nil
}

// LoadPretrainedRONpy is LoadPretrainedNpy with ObjectPairs.
func LoadPretrainedRONpy[B tensor.Backend](path string, m nn.Module[B], opts ...Option) error {
	return LoadPretrainedNpy(path, m, ObjectPairs, opts...)
}
