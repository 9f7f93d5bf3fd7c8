package model

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Brownie44l1/color-api/internal/apperr"
	"github.com/Brownie44l1/color-api/internal/config"
)

func pbMessage(b []byte, field protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func pbString(b []byte, field protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, field, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func pbVarint(b []byte, field protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, field, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// identityModel encodes an ONNX ModelProto whose single Identity node copies
// a float32 [1,n] "input" tensor to "probabilities".
func identityModel(n int) []byte {
	var shape []byte
	shape = pbMessage(shape, 1, pbVarint(nil, 1, 1))
	shape = pbMessage(shape, 1, pbVarint(nil, 1, uint64(n)))

	tensorType := pbVarint(nil, 1, 1) // FLOAT
	tensorType = pbMessage(tensorType, 2, shape)
	typeProto := pbMessage(nil, 1, tensorType)

	valueInfo := func(name string) []byte {
		return pbMessage(pbString(nil, 1, name), 2, typeProto)
	}

	node := pbString(nil, 1, "input")
	node = pbString(node, 2, "probabilities")
	node = pbString(node, 4, "Identity")

	graph := pbMessage(nil, 1, node)
	graph = pbString(graph, 2, "colors")
	graph = pbMessage(graph, 11, valueInfo("input"))
	graph = pbMessage(graph, 12, valueInfo("probabilities"))

	model := pbVarint(nil, 1, 7) // ir_version
	model = pbMessage(model, 7, graph)
	return pbMessage(model, 8, pbVarint(nil, 2, 13)) // opset 13
}

func loadIdentityClassifier(t *testing.T) *ONNXClassifier {
	t.Helper()
	lib := os.Getenv("ONNXRUNTIME_LIB")
	if lib == "" {
		t.Skip("ONNXRUNTIME_LIB is not set")
	}

	modelPath := filepath.Join(t.TempDir(), "identity.onnx")
	require.NoError(t, os.WriteFile(modelPath, identityModel(3), 0o600))
	meta := writeFile(t, "meta.json", `{
		"output_kind": "scores",
		"output_name": "probabilities",
		"classes": ["red", "green", "blue"]
	}`)

	c, err := Load(config.ModelConfig{Path: modelPath, MetadataPath: meta, RuntimeLibrary: lib})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestONNXClassifier_Predict(t *testing.T) {
	c := loadIdentityClassifier(t)

	label, err := c.Predict([]float64{10, 200, 30})
	require.NoError(t, err)
	assert.Equal(t, "green", label)

	_, err = c.Predict([]float64{1, 2})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestONNXClassifier_ConcurrentPredict(t *testing.T) {
	c := loadIdentityClassifier(t)
	classes := []string{"red", "green", "blue"}

	const workers = 32
	labels := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			features := []float64{1, 1, 1}
			features[i%3] = float64(100 + i)
			labels[i], errs[i] = c.Predict(features)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, classes[i%3], labels[i], "worker %d", i)
	}
}
