package loader

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// DetectionMapper renames the classifier of a detection checkpoint onto the
// fully connected blocks of a relnet model.
//
// Mappings:
//
//	vgg.classifier.0.* -> fc6.fc.*
//	vgg.classifier.3.* -> fc7.fc.*
//	cls_score_net.*    -> fc_obj.fc.*
type DetectionMapper struct{}

var detectionPrefixes = []struct {
	from, to string
	required bool
}{
	{"vgg.classifier.0.", "fc6.fc.", true},
	{"vgg.classifier.3.", "fc7.fc.", true},
	{"cls_score_net.", "fc_obj.fc.", false},
}

// MapName returns the relnet name for a detection classifier key, or false if
// name is not a classifier key.
func (DetectionMapper) MapName(name string) (string, bool) {
	for _, p := range detectionPrefixes {
		if rest, ok := strings.CutPrefix(name, p.from); ok {
			return p.to + rest, true
		}
	}
	return "", false
}

// Architecture returns the source architecture name.
func (DetectionMapper) Architecture() string {
	return "faster-rcnn-vgg16"
}

// MigrateDetection renames a detection checkpoint into the naming of a relnet
// model whose state keys are targetKeys. det is not modified.
//
// Region proposal and box regression arrays are dropped. The backbone arrays
// ("vgg.features.<n>.weight|bias"), ordered by layer index with the weight
// first, are renamed one to one onto the target keys that contain "conv", in
// target order. The classifier is renamed by DetectionMapper and every other
// "vgg" array is dropped.
//
// Backbone positions are counted among the "features" keys only. Counting
// every surviving key instead would shift the pairing whenever a
// non-backbone array is stored ahead of the backbone, so such arrays never
// change which convolution a feature layer lands on. They are passed through
// under their own names.
func MigrateDetection(det *state.Dict, targetKeys []string) (*state.Dict, error) {
	out := det.Clone(false)
	if dropped := out.DeleteFunc(func(name string) bool {
		return strings.Contains(name, "rpn") || strings.Contains(name, "bbox")
	}); len(dropped) > 0 {
		klog.V(1).Infof("migrate: dropped %d proposal/box arrays", len(dropped))
	}

	var targets []string
	for _, k := range targetKeys {
		if strings.Contains(k, "conv") {
			targets = append(targets, k)
		}
	}

	features, err := featureKeys(out.Keys())
	if err != nil {
		return nil, err
	}
	if len(features) != len(targets) {
		return nil, errors.Errorf("migrate: %d backbone arrays for %d convolution keys", len(features), len(targets))
	}
	for i, f := range features {
		out.Rename(f.name, targets[i])
		klog.V(1).Infof("migrate: %s -> %s", f.name, targets[i])
	}

	var mapper DetectionMapper
	for _, p := range detectionPrefixes {
		found := false
		for _, k := range out.Keys() {
			if !strings.HasPrefix(k, p.from) {
				continue
			}
			to, _ := mapper.MapName(k)
			out.Rename(k, to)
			klog.V(1).Infof("migrate: %s -> %s", k, to)
			found = true
		}
		if !found && p.required {
			return nil, &state.KeyError{Op: "migrate", Key: p.from + "weight"}
		}
	}

	if dropped := out.DeleteFunc(func(name string) bool {
		return strings.Contains(name, "vgg")
	}); len(dropped) > 0 {
		klog.V(1).Infof("migrate: dropped %d unused backbone arrays", len(dropped))
	}
	return out, nil
}

type featureKey struct {
	name  string
	layer int
	bias  bool
}

// featureKeys returns the "features" keys ordered by layer, weight before bias.
func featureKeys(keys []string) ([]featureKey, error) {
	var out []featureKey
	for _, k := range keys {
		if !strings.Contains(k, "features") {
			continue
		}
		parts := strings.Split(k, ".")
		if len(parts) < 3 {
			return nil, errors.Errorf("migrate: malformed backbone key %q", k)
		}
		layer, err := strconv.Atoi(parts[len(parts)-2])
		if err != nil {
			return nil, errors.Wrapf(err, "migrate: backbone key %q", k)
		}
		var bias bool
		switch parts[len(parts)-1] {
		case "weight":
		case "bias":
			bias = true
		default:
			return nil, errors.Errorf("migrate: backbone key %q is neither weight nor bias", k)
		}
		out = append(out, featureKey{name: k, layer: layer, bias: bias})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].layer != out[j].layer {
			return out[i].layer < out[j].layer
		}
		return !out[i].bias && out[j].bias
	})
	return out, nil
}

// PretrainWithDetection initializes m from a SafeTensors detection checkpoint.
// The migrated arrays overwrite the matching entries of m's state; an array
// with no counterpart in m is an error. Floating-point arrays are cast to the
// dtype of the entry they replace. Entries of m that the checkpoint does not
// cover keep their values.
func PretrainWithDetection[B tensor.Backend](path string, m nn.Module[B], opts ...Option) error {
	det, _, err := serialization.ReadSafeTensors(path)
	if err != nil {
		return err
	}

	sd := m.StateDict()
	migrated, err := MigrateDetection(det, sd.Keys())
	if err != nil {
		return errors.WithMessage(err, path)
	}

	migrated.Range(func(name string, raw *tensor.RawTensor) bool {
		if dst, ok := sd.Get(name); ok {
			migrated.Set(name, convertFloat(raw, dst.DType()))
		}
		return true
	})

	merged := sd.Clone(false)
	if unknown := merged.Update(migrated); len(unknown) > 0 {
		return errors.WithMessage(&state.KeyError{Op: "pretrain", Key: unknown[0], Unexpected: true}, path)
	}
	if err := state.Copy("pretrain", sd, merged); err != nil {
		return errors.WithMessage(err, path)
	}

	o := collectOptions(opts)
	for _, k := range migrated.Keys() {
		o.report(k)
	}
	klog.V(1).Infof("pretrain: %d of %d arrays from %s", migrated.Len(), sd.Len(), path)
	return nil
}
