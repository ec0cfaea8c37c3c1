// Package models assembles relnet's VGG-style backbone from nn blocks.
package models

import (
	"math/rand"
	"strconv"

	"github.com/born-ml/relnet/internal/config"
	"github.com/born-ml/relnet/internal/nn"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

// headInitStd is the standard deviation of the fully connected weights.
const headInitStd = 0.01

// VGG is a VGG-style backbone with region heads.
//
// Stages are named conv1..convN; each is a Sequential of ConvBlocks, so the
// first convolution weight is "conv1.0.conv.weight". A 2x2 max pool follows
// every stage but the last. Pooled region features go through fc6 and fc7;
// the optional object branch adds fc6_obj, fc7_obj and the fc_obj
// classifier.
type VGG[B tensor.Backend] struct {
	cfg    config.Model
	stages []*nn.Sequential[B]
	pool   *nn.MaxPool2D[B]

	flatten *nn.Flatten[B]
	fc6     *nn.FC[B]
	fc7     *nn.FC[B]

	fc6Obj *nn.FC[B] // nil without the object branch
	fc7Obj *nn.FC[B]
	fcObj  *nn.FC[B]
}

// NewVGG builds the model described by cfg. cfg must be valid.
func NewVGG[B tensor.Backend](cfg *config.Model, backend B) *VGG[B] {
	if err := cfg.Validate(); err != nil {
		panic("models: " + err.Error())
	}

	var rng *rand.Rand
	if cfg.Seed != 0 {
		rng = rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // G404: weight init is not security-sensitive
	}
	blockCfg := nn.ConvBlockConfig{
		Stride:      1,
		ReLU:        true,
		SamePadding: true,
		BatchNorm:   cfg.BatchNorm,
		Rng:         rng,
	}

	m := &VGG[B]{
		cfg:     *cfg,
		pool:    nn.NewMaxPool2D(2, 2, backend),
		flatten: nn.NewFlatten[B](),
	}

	in := cfg.InChannels
	for _, s := range cfg.Stages {
		stage := nn.NewSequential[B]()
		for j := 0; j < s.Blocks; j++ {
			stage.Add(nn.NewConvBlock(in, s.Channels, cfg.Kernel, blockCfg, backend))
			in = s.Channels
		}
		m.stages = append(m.stages, stage)
	}

	m.fc6 = nn.NewFC(cfg.FeatureSize(), cfg.FCWidth, true, backend)
	m.fc7 = nn.NewFC(cfg.FCWidth, cfg.FCWidth, true, backend)
	heads := []nn.Module[B]{m.fc6, m.fc7}
	if cfg.ObjectBranch {
		m.fc6Obj = nn.NewFC(cfg.FeatureSize(), cfg.FCWidth, true, backend)
		m.fc7Obj = nn.NewFC(cfg.FCWidth, cfg.FCWidth, true, backend)
		m.fcObj = nn.NewFC(cfg.FCWidth, cfg.NumClasses, false, backend)
		heads = append(heads, m.fc6Obj, m.fc7Obj, m.fcObj)
	}
	nn.WeightsNormalInit(headInitStd, rng, heads...)
	return m
}

// Forward returns the feature map of the last stage for images [N,C,H,W].
func (m *VGG[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x := input
	for i, stage := range m.stages {
		x = stage.Forward(x)
		if i < len(m.stages)-1 {
			x = m.pool.Forward(x)
		}
	}
	return x
}

// Regions maps pooled region features [R,C,P,P] to fc7 activations [R,W].
func (m *VGG[B]) Regions(pooled *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return m.fc7.Forward(m.fc6.Forward(m.flatten.Forward(pooled)))
}

// ObjectScores maps pooled region features to class scores through the
// object branch. It panics without the object branch.
func (m *VGG[B]) ObjectScores(pooled *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if m.fcObj == nil {
		panic("models: VGG built without object branch")
	}
	x := m.fc7Obj.Forward(m.fc6Obj.Forward(m.flatten.Forward(pooled)))
	return m.fcObj.Forward(x)
}

// Children returns the stages followed by the heads.
func (m *VGG[B]) Children() []nn.Child[B] {
	children := make([]nn.Child[B], 0, len(m.stages)+5)
	for i, s := range m.stages {
		children = append(children, nn.Child[B]{Name: StageName(i), Module: s})
	}
	children = append(children,
		nn.Child[B]{Name: "fc6", Module: m.fc6},
		nn.Child[B]{Name: "fc7", Module: m.fc7},
	)
	if m.fcObj != nil {
		children = append(children,
			nn.Child[B]{Name: "fc6_obj", Module: m.fc6Obj},
			nn.Child[B]{Name: "fc7_obj", Module: m.fc7Obj},
			nn.Child[B]{Name: "fc_obj", Module: m.fcObj},
		)
	}
	return children
}

// Parameters returns all parameters in state order.
func (m *VGG[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for _, c := range m.Children() {
		params = append(params, c.Module.Parameters()...)
	}
	return params
}

// StateDict returns the prefixed state of every stage and head.
func (m *VGG[B]) StateDict() *state.Dict {
	sd := state.New()
	for _, c := range m.Children() {
		sd.Merge(c.Module.StateDict().WithPrefix(c.Name))
	}
	return sd
}

// LoadStateDict copies sd into the model in place.
func (m *VGG[B]) LoadStateDict(sd *state.Dict) error {
	return state.Copy("vgg", m.StateDict(), sd)
}

// FreezeStages marks the parameters of the first n stages as not trainable.
func (m *VGG[B]) FreezeStages(n int) {
	for i := 0; i < n && i < len(m.stages); i++ {
		nn.SetTrainable[B](m.stages[i], false)
	}
}

// Stage returns stage i (0-based).
func (m *VGG[B]) Stage(i int) *nn.Sequential[B] { return m.stages[i] }

// NumStages returns the number of convolution stages.
func (m *VGG[B]) NumStages() int { return len(m.stages) }

// HasObjectBranch reports whether fc6_obj, fc7_obj and fc_obj exist.
func (m *VGG[B]) HasObjectBranch() bool { return m.fcObj != nil }

// Config returns the configuration the model was built from.
func (m *VGG[B]) Config() config.Model { return m.cfg }

// StageName returns the state prefix of stage i (0-based): "conv<i+1>".
func StageName(i int) string {
	return "conv" + strconv.Itoa(i+1)
}
