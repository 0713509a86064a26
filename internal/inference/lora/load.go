package lora

import "hash/fnv"

// mergeHiddenSize is the square dimension used for every synthetic base
// weight and adapter factor below. Real deployments load actual tensor
// shapes from the adapter/base files; this package has no tensor-file
// reader, so backends derive deterministic stand-in weights instead of
// fabricating a merge count outright (see LoadBaseWeights/LoadAdapter).
const mergeHiddenSize = 64

// mergeRank is the low-rank dimension used for synthetic adapter factors.
const mergeRank = 4

// LoadBaseWeights builds one base Matrix per target weight name in mapping,
// all of the same square shape, so every layer in layerNames has a base
// weight MergeStacked can shape-check an adapter's B*A product against.
func LoadBaseWeights(mapping NameMapping) map[string]*Matrix {
	weights := make(map[string]*Matrix, len(mapping))
	for _, baseName := range mapping {
		if _, ok := weights[baseName]; ok {
			continue
		}
		weights[baseName] = &Matrix{
			Rows: mergeHiddenSize,
			Cols: mergeHiddenSize,
			Data: make([]float32, mergeHiddenSize*mergeHiddenSize),
		}
	}
	return weights
}

// LoadAdapter derives a deterministic Adapter from an adapter file path.
// Real LoRA checkpoints store B/A as trained tensors; absent a tensor-file
// reader, the path's hash seeds a reproducible pseudo-random fill so the
// same path always yields the same factors, and MergeStacked's shape check
// and accumulation run against real (if synthetic) data rather than a
// fabricated merged count.
func LoadAdapter(path string) Adapter {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	seed := h.Sum32()

	b := Matrix{Rows: mergeHiddenSize, Cols: mergeRank, Data: make([]float32, mergeHiddenSize*mergeRank)}
	a := Matrix{Rows: mergeRank, Cols: mergeHiddenSize, Data: make([]float32, mergeRank*mergeHiddenSize)}
	fillDeterministic(b.Data, seed)
	fillDeterministic(a.Data, seed^0x9e3779b9)

	return Adapter{Name: path, B: b, A: a, Scale: 1.0 / float32(mergeRank)}
}

// fillDeterministic fills dst with a reproducible pseudo-random sequence
// derived from seed, scaled to a small magnitude appropriate for a LoRA
// delta factor.
func fillDeterministic(dst []float32, seed uint32) {
	state := seed
	for i := range dst {
		state = state*1664525 + 1013904223
		dst[i] = (float32(state>>8&0xFFFF)/float32(0xFFFF) - 0.5) * 0.02
	}
}
