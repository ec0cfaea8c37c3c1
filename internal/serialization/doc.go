// Package serialization reads and writes dictionaries of named arrays.
//
// Two container formats are supported:
//
//   - SafeTensors, the checkpoint format used by SaveNet / LoadNet and by
//     detection checkpoints:
//
//     [8 bytes: header_size (uint64 LE)]
//     [header_size bytes: JSON header, name -> {dtype, shape, data_offsets}]
//     [tensor data: raw little-endian bytes]
//
//   - NumPy .npy arrays and .npz archives (zip of .npy files), used for legacy
//     pretrained weights.
//
// Example usage:
//
//	if err := serialization.WriteSafeTensors("net.safetensors", model.StateDict(), nil); err != nil {
//	    return err
//	}
//	sd, meta, err := serialization.ReadSafeTensors("net.safetensors")
package serialization
