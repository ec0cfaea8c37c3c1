// Package loader transplants pretrained weights into relnet models.
//
// Two sources are supported:
//
//   - Legacy NumPy archives (.npz) keyed "<layer>/<field>", e.g.
//     "conv1_1/weights" or "fc6/biases". Convolution kernels are stored
//     HWIO and fully connected weights [in, out]; both are permuted on copy.
//   - Detection checkpoints (SafeTensors) whose VGG feature extractor and
//     classifier are renamed onto the model's own keys.
//
// A RemapTable maps each destination key to its legacy source. Tables are
// static and hand-authored; VGGTable derives one from a model's state-dict
// keys plus a list of fully connected pairs.
//
// Example:
//
//	if err := loader.LoadPretrainedNpy[*cpu.CPUBackend]("vgg16.npz", model, loader.DetectionPairs); err != nil {
//	    return err
//	}
package loader
