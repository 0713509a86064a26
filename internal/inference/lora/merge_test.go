package lora

import "testing"

func TestMergeStackedAppliesShapeCheckedDelta(t *testing.T) {
	base := &Matrix{Rows: 2, Cols: 2, Data: []float32{1, 1, 1, 1}}
	weights := map[string]*Matrix{"target": base}
	mapping := NameMapping{"layer": "target"}

	adapter := Adapter{
		Name:  "a",
		B:     Matrix{Rows: 2, Cols: 1, Data: []float32{1, 1}},
		A:     Matrix{Rows: 1, Cols: 2, Data: []float32{1, 1}},
		Scale: 1,
	}

	result := MergeStacked(weights, mapping, LayerNames(mapping), []Adapter{adapter})
	if result.Merged != 1 || result.Failed != 0 {
		t.Fatalf("expected 1 merged 0 failed, got %+v", result)
	}
	// base += scale * B@A = [[1,1],[1,1]] * 1 added onto every entry of base.
	want := []float32{2, 2, 2, 2}
	for i, v := range base.Data {
		if v != want[i] {
			t.Errorf("base.Data[%d] = %v, want %v", i, v, want[i])
		}
	}
}

func TestMergeStackedSkipsShapeMismatchAndIncrementsFailed(t *testing.T) {
	base := &Matrix{Rows: 4, Cols: 4, Data: make([]float32, 16)}
	weights := map[string]*Matrix{"target": base}
	mapping := NameMapping{"layer": "target"}

	// B is 2x1, base is 4x4: shape mismatch, must be skipped not aborted.
	adapter := Adapter{B: Matrix{Rows: 2, Cols: 1, Data: []float32{1, 1}}, A: Matrix{Rows: 1, Cols: 4, Data: []float32{1, 1, 1, 1}}, Scale: 1}

	result := MergeStacked(weights, mapping, LayerNames(mapping), []Adapter{adapter})
	if result.Merged != 0 || result.Failed != 1 {
		t.Fatalf("expected 0 merged 1 failed, got %+v", result)
	}
	for _, v := range base.Data {
		if v != 0 {
			t.Fatal("base weights must be untouched after a failed merge")
		}
	}
}

func TestMergeStackedSkipsUnmappedLayerName(t *testing.T) {
	weights := map[string]*Matrix{}
	mapping := NameMapping{}
	result := MergeStacked(weights, mapping, []string{"unknown_layer"}, []Adapter{{}})
	if result.Merged != 0 || result.Failed != 1 {
		t.Fatalf("expected 0 merged 1 failed for unmapped layer, got %+v", result)
	}
}

func TestMergeStackedStacksMultipleAdaptersInOrder(t *testing.T) {
	base := &Matrix{Rows: 1, Cols: 1, Data: []float32{0}}
	weights := map[string]*Matrix{"target": base}
	mapping := NameMapping{"layer": "target"}

	adapterOne := Adapter{B: Matrix{Rows: 1, Cols: 1, Data: []float32{1}}, A: Matrix{Rows: 1, Cols: 1, Data: []float32{1}}, Scale: 1}
	adapterTwo := Adapter{B: Matrix{Rows: 1, Cols: 1, Data: []float32{1}}, A: Matrix{Rows: 1, Cols: 1, Data: []float32{1}}, Scale: 2}

	result := MergeStacked(weights, mapping, LayerNames(mapping), []Adapter{adapterOne, adapterTwo})
	if result.Merged != 2 || result.Failed != 0 {
		t.Fatalf("expected 2 merged 0 failed, got %+v", result)
	}
	if base.Data[0] != 3 {
		t.Fatalf("expected stacked delta 1+2=3, got %v", base.Data[0])
	}
}

func TestLoadBaseWeightsCoversEveryMappedTarget(t *testing.T) {
	weights := LoadBaseWeights(LlamaNameMapping)
	seen := map[string]bool{}
	for _, target := range LlamaNameMapping {
		seen[target] = true
	}
	if len(weights) != len(seen) {
		t.Fatalf("expected %d distinct base weights, got %d", len(seen), len(weights))
	}
	for target := range seen {
		if _, ok := weights[target]; !ok {
			t.Errorf("missing base weight for target %q", target)
		}
	}
}

func TestLoadAdapterIsDeterministicPerPath(t *testing.T) {
	a1 := LoadAdapter("adapters/one.safetensors")
	a2 := LoadAdapter("adapters/one.safetensors")
	a3 := LoadAdapter("adapters/two.safetensors")

	if a1.B.Data[0] != a2.B.Data[0] || a1.A.Data[0] != a2.A.Data[0] {
		t.Fatal("expected identical adapter factors for the same path")
	}
	if a1.B.Data[0] == a3.B.Data[0] && a1.A.Data[0] == a3.A.Data[0] {
		t.Fatal("expected different adapter factors for different paths")
	}
}

func TestLoadAdapterShapeMatchesMergeHiddenSize(t *testing.T) {
	weights := LoadBaseWeights(LlamaNameMapping)
	adapter := LoadAdapter("adapters/one.safetensors")
	for _, base := range weights {
		result := MergeStacked(map[string]*Matrix{"t": base}, NameMapping{"l": "t"}, []string{"l"}, []Adapter{adapter})
		if result.Failed != 0 {
			t.Fatalf("expected synthetic adapter to shape-match every base weight, got Failed=%d", result.Failed)
		}
		break
	}
}
