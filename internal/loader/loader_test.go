package loader

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/relnet/internal/backend/cpu"
	"github.com/born-ml/relnet/internal/config"
	"github.com/born-ml/relnet/internal/models"
	"github.com/born-ml/relnet/internal/serialization"
	"github.com/born-ml/relnet/internal/state"
	"github.com/born-ml/relnet/internal/tensor"
)

type Backend = *cpu.CPUBackend

// seq returns a float32 tensor holding start, start+1, ...
func seq(t *testing.T, start float32, dims ...int) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.NewRaw(tensor.Shape(dims), tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	for i := range raw.AsFloat32() {
		raw.AsFloat32()[i] = start + float32(i)
	}
	return raw
}

func tinyModel(objectBranch bool) *models.VGG[Backend] {
	return models.NewVGG(&config.Model{
		InChannels:   1,
		Stages:       []config.Stage{{Channels: 2, Blocks: 1}, {Channels: 4, Blocks: 2}},
		Kernel:       3,
		PoolSize:     2,
		FCWidth:      5,
		ObjectBranch: objectBranch,
		NumClasses:   3,
		Seed:         1,
	}, cpu.New())
}

// legacyFixture holds every array the tiny model needs, in legacy layout.
func legacyFixture(t *testing.T) *state.Dict {
	sd := state.New()
	sd.Set("conv1_1/weights", seq(t, 0, 3, 3, 1, 2))
	sd.Set("conv1_1/biases", seq(t, 100, 2))
	sd.Set("conv2_1/weights", seq(t, 200, 3, 3, 2, 4))
	sd.Set("conv2_1/biases", seq(t, 300, 4))
	sd.Set("conv2_2/weights", seq(t, 400, 3, 3, 4, 4))
	sd.Set("conv2_2/biases", seq(t, 600, 4))
	sd.Set("fc6/weights", seq(t, 700, 16, 5))
	sd.Set("fc6/biases", seq(t, 800, 5))
	sd.Set("fc7/weights", seq(t, 900, 5, 5))
	sd.Set("fc7/biases", seq(t, 1000, 5))
	return sd
}

// asFloat64 returns a copy of sd with every array widened to float64.
func asFloat64(sd *state.Dict) *state.Dict {
	out := state.New()
	sd.Range(func(name string, raw *tensor.RawTensor) bool {
		out.Set(name, cpu.New().Cast(raw, tensor.Float64))
		return true
	})
	return out
}

func TestVGGTable(t *testing.T) {
	m := tinyModel(false)
	table, err := VGGTable(m.StateDict().Keys(), DetectionPairs)
	require.NoError(t, err)

	assert.Equal(t, []Entry{
		{Dest: "conv1.0.conv.weight", Source: Source{Key: "conv1_1", Field: FieldWeights, Permute: []int{3, 2, 0, 1}}},
		{Dest: "conv1.0.conv.bias", Source: Source{Key: "conv1_1", Field: FieldBiases}},
		{Dest: "conv2.0.conv.weight", Source: Source{Key: "conv2_1", Field: FieldWeights, Permute: []int{3, 2, 0, 1}}},
		{Dest: "conv2.0.conv.bias", Source: Source{Key: "conv2_1", Field: FieldBiases}},
		{Dest: "conv2.1.conv.weight", Source: Source{Key: "conv2_2", Field: FieldWeights, Permute: []int{3, 2, 0, 1}}},
		{Dest: "conv2.1.conv.bias", Source: Source{Key: "conv2_2", Field: FieldBiases}},
		{Dest: "fc6.fc.weight", Source: Source{Key: "fc6", Field: FieldWeights, Permute: []int{1, 0}}},
		{Dest: "fc6.fc.bias", Source: Source{Key: "fc6", Field: FieldBiases}},
		{Dest: "fc7.fc.weight", Source: Source{Key: "fc7", Field: FieldWeights, Permute: []int{1, 0}}},
		{Dest: "fc7.fc.bias", Source: Source{Key: "fc7", Field: FieldBiases}},
	}, []Entry(table))
}

func TestVGGTable_SkipsBatchNormAndRejectsUnknownConv(t *testing.T) {
	table, err := VGGTable([]string{"conv1.0.conv.weight", "conv1.0.bn.weight", "conv1.0.bn.running_mean"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"conv1.0.conv.weight"}, table.DestKeys())

	_, err = VGGTable([]string{"convx.weight"}, nil)
	assert.Error(t, err)
}

// Every model array is written and every legacy entry is consumed.
func TestApply_ExactKeySet(t *testing.T) {
	m := tinyModel(false)
	dst := m.StateDict()
	archive, err := NewLegacyArchive(legacyFixture(t))
	require.NoError(t, err)

	table, err := VGGTable(dst.Keys(), DetectionPairs)
	require.NoError(t, err)
	used, err := Apply(table, archive, dst)
	require.NoError(t, err)

	written := table.DestKeys()
	sort.Strings(written)
	want := dst.Keys()
	sort.Strings(want)
	assert.Equal(t, want, written)

	sort.Strings(used)
	assert.Equal(t, archive.Entries(), used)
}

func TestApply_Permutes(t *testing.T) {
	m := tinyModel(false)
	archive, err := NewLegacyArchive(legacyFixture(t))
	require.NoError(t, err)
	table, err := VGGTable(m.StateDict().Keys(), DetectionPairs)
	require.NoError(t, err)
	_, err = Apply(table, archive, m.StateDict())
	require.NoError(t, err)

	sd := m.StateDict()
	// conv2.0: legacy [kh=3, kw=3, in=2, out=4] -> [out, in, kh, kw]
	w, _ := sd.Get("conv2.0.conv.weight")
	require.Equal(t, tensor.Shape{4, 2, 3, 3}, w.Shape())
	legacy := archive["conv2_1"][FieldWeights].AsFloat32()
	for o := 0; o < 4; o++ {
		for i := 0; i < 2; i++ {
			for h := 0; h < 3; h++ {
				for k := 0; k < 3; k++ {
					got := w.AsFloat32()[((o*2+i)*3+h)*3+k]
					want := legacy[((h*3+k)*2+i)*4+o]
					require.Equal(t, want, got, "o=%d i=%d h=%d w=%d", o, i, h, k)
				}
			}
		}
	}

	// fc6: legacy [in=16, out=5] -> [out, in]
	fc, _ := sd.Get("fc6.fc.weight")
	assert.Equal(t, float32(700+3*5+2), fc.AsFloat32()[2*16+3])

	b, _ := sd.Get("conv2.1.conv.bias")
	assert.Equal(t, []float32{600, 601, 602, 603}, b.AsFloat32())
}

func TestApply_Errors(t *testing.T) {
	m := tinyModel(false)

	fixture := legacyFixture(t)
	fixture.Delete("fc7/biases")
	archive, err := NewLegacyArchive(fixture)
	require.NoError(t, err)
	table, err := VGGTable(m.StateDict().Keys(), DetectionPairs)
	require.NoError(t, err)
	_, err = Apply(table, archive, m.StateDict())
	var keyErr *state.KeyError
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, "fc7/biases", keyErr.Key)

	fixture = legacyFixture(t)
	fixture.Set("conv1_1/weights", seq(t, 0, 3, 3, 2, 2))
	archive, err = NewLegacyArchive(fixture)
	require.NoError(t, err)
	_, err = Apply(table, archive, m.StateDict())
	var shapeErr *tensor.ShapeError
	require.ErrorAs(t, err, &shapeErr)

	_, err = Apply(RemapTable{{Dest: "nope.weight", Source: Source{Key: "fc6", Field: FieldBiases}}}, archive, m.StateDict())
	require.ErrorAs(t, err, &keyErr)
	assert.Equal(t, "nope.weight", keyErr.Key)
}

func TestApply_CastsFloatSources(t *testing.T) {
	m := tinyModel(false)
	archive, err := NewLegacyArchive(asFloat64(legacyFixture(t)))
	require.NoError(t, err)
	table, err := VGGTable(m.StateDict().Keys(), DetectionPairs)
	require.NoError(t, err)
	_, err = Apply(table, archive, m.StateDict())
	require.NoError(t, err)

	sd := m.StateDict()
	fc, _ := sd.Get("fc6.fc.weight")
	assert.Equal(t, tensor.Float32, fc.DType())
	assert.Equal(t, float32(700+3*5+2), fc.AsFloat32()[2*16+3])
	b, _ := sd.Get("conv2.1.conv.bias")
	assert.Equal(t, []float32{600, 601, 602, 603}, b.AsFloat32())

	// A float64 array of the wrong shape is still rejected.
	fixture := asFloat64(legacyFixture(t))
	fixture.Set("fc7/biases", cpu.New().Cast(seq(t, 0, 6), tensor.Float64))
	archive, err = NewLegacyArchive(fixture)
	require.NoError(t, err)
	_, err = Apply(table, archive, m.StateDict())
	var shapeErr *tensor.ShapeError
	require.ErrorAs(t, err, &shapeErr)

	// Integer arrays are never converted.
	fixture = legacyFixture(t)
	fixture.Set("fc7/biases", cpu.New().Cast(seq(t, 0, 5), tensor.Int64))
	archive, err = NewLegacyArchive(fixture)
	require.NoError(t, err)
	_, err = Apply(table, archive, m.StateDict())
	var dtypeErr *tensor.DTypeError
	require.ErrorAs(t, err, &dtypeErr)
}

func TestLoadPretrainedNpy_Float64Archive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vgg16.npz")
	require.NoError(t, serialization.WriteNpz(path, asFloat64(legacyFixture(t))))

	m := tinyModel(false)
	require.NoError(t, LoadPretrainedNpy[Backend](path, m, DetectionPairs))
	fc7, _ := m.StateDict().Get("fc7.fc.bias")
	assert.Equal(t, []float32{1000, 1001, 1002, 1003, 1004}, fc7.AsFloat32())
}

func TestNewLegacyArchive_BadName(t *testing.T) {
	sd := state.New()
	sd.Set("conv1_1", seq(t, 0, 2))
	_, err := NewLegacyArchive(sd)
	assert.Error(t, err)
}

func TestLoadPretrainedNpy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vgg16.npz")
	require.NoError(t, serialization.WriteNpz(path, legacyFixture(t)))

	m := tinyModel(false)
	var progress []string
	require.NoError(t, LoadPretrainedNpy[Backend](path, m, DetectionPairs, WithProgress(func(key string) {
		progress = append(progress, key)
	})))
	assert.Len(t, progress, m.StateDict().Len())

	fc7, _ := m.StateDict().Get("fc7.fc.bias")
	assert.Equal(t, []float32{1000, 1001, 1002, 1003, 1004}, fc7.AsFloat32())
}

func TestLoadPretrainedRONpy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vgg16.npz")
	require.NoError(t, serialization.WriteNpz(path, legacyFixture(t)))

	m := tinyModel(true)
	require.NoError(t, LoadPretrainedRONpy[Backend](path, m))

	sd := m.StateDict()
	for _, pair := range [][2]string{{"fc6.fc.weight", "fc6_obj.fc.weight"}, {"fc7.fc.bias", "fc7_obj.fc.bias"}} {
		a, _ := sd.Get(pair[0])
		b, _ := sd.Get(pair[1])
		assert.Equal(t, a.AsFloat32(), b.AsFloat32(), pair[1])
	}
}

func TestParsePairs(t *testing.T) {
	pairs, err := ParsePairs([]byte("pairs:\n  - dest: fc6.fc\n    legacy: fc6\n  - dest: fc6_obj.fc\n    legacy: fc6\n"))
	require.NoError(t, err)
	assert.Equal(t, []Pair{{Dest: "fc6.fc", Legacy: "fc6"}, {Dest: "fc6_obj.fc", Legacy: "fc6"}}, pairs)

	_, err = ParsePairs([]byte("pairs:\n  - dest: fc6.fc\n"))
	assert.Error(t, err)
	_, err = ParsePairs([]byte("pairs:\n  - {dest: a, legacy: b}\n  - {dest: a, legacy: c}\n"))
	assert.Error(t, err)
	_, err = ParsePairs([]byte("pairs: ["))
	assert.Error(t, err)
}

func TestLoadPairs_MissingFile(t *testing.T) {
	_, err := LoadPairs(filepath.Join(t.TempDir(), "pairs.yaml"))
	assert.Error(t, err)
}
