package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
)

const testDim = 1024

func flatModel(bias float64) *Model {
	return &Model{
		Version:    "flat",
		Dim:        testDim,
		Bias:       bias,
		Weights:    make([]float64, testDim),
		Thresholds: Thresholds{Medium: 0.4, High: 0.6},
	}
}

func TestClassifyThresholds(t *testing.T) {
	tests := []struct {
		name  string
		bias  float64
		level models.Severity
	}{
		{"below medium", -2, models.SeverityNone},
		{"medium", 0, models.SeverityMedium},
		{"high", 2, models.SeverityHigh},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			level, prob := Classify("are you home", flatModel(tc.bias), nil)
			assert.Equal(t, tc.level, level)
			assert.InDelta(t, sigmoid(tc.bias), prob, 1e-9)
		})
	}
}

func TestClassifyWithoutModelOrText(t *testing.T) {
	level, prob := Classify("our secret", nil, DefaultKeywords)
	assert.Equal(t, models.SeverityNone, level)
	assert.Zero(t, prob)

	level, prob = Classify("   ", flatModel(5), DefaultKeywords)
	assert.Equal(t, models.SeverityNone, level)
	assert.Zero(t, prob)
}

func TestFeaturesAreL2Normalized(t *testing.T) {
	vec := Features("our secret ok", testDim, DefaultKeywords)
	require.NotEmpty(t, vec)

	var sum float64
	for id, v := range vec {
		assert.True(t, id >= 0 && id < testDim)
		sum += v * v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestKeywordFeatureRaisesScore(t *testing.T) {
	m := flatModel(0)
	m.Weights[bucket("kw:our secret", testDim)] = 10

	inf := Infer("this is 0ur secret", m, DefaultKeywords)

	assert.Greater(t, inf.Logit, 1.0)
	assert.Greater(t, inf.Prob, 0.7)
}

func TestDetectorNormalizesKeywords(t *testing.T) {
	m := flatModel(0)
	m.Weights[bucket("kw:telegram", testDim)] = 10
	keywords := []string{"TeleGr4m", "   "}

	raw := Infer("add me on telegram", m, keywords)
	level, prob := NewDetector(m, keywords, nil).Classify("add me on telegram")

	assert.Equal(t, models.SeverityHigh, level)
	assert.Greater(t, prob, raw.Prob)
}

func TestParseModel(t *testing.T) {
	valid := func() string {
		return `{"version":"v1","dim":2,"bias":0.1,"weights":[0.5,-0.5],"createdAt":1,` +
			`"thresholds":{"medium":0.5,"high":0.8}`
	}

	m, err := ParseModel([]byte(valid() + `}`))
	require.NoError(t, err)
	assert.Equal(t, "v1", m.Version)
	assert.Nil(t, m.Features)

	_, err = ParseModel([]byte(valid() + `,"features":{"hash":"murmur3-32","ngrams":[2,3],"keywordBoost":3}}`))
	assert.NoError(t, err)

	_, err = ParseModel([]byte(valid() + `,"features":{"hash":"murmur3-32","ngrams":[1,2],"keywordBoost":3}}`))
	assert.ErrorIs(t, err, ErrFeatureMismatch)

	_, err = ParseModel([]byte(`{"version":"v1","dim":3,"weights":[1],"thresholds":{"medium":0.5,"high":0.8}}`))
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = ParseModel([]byte(`{"version":"v1","dim":1,"weights":[1],"thresholds":{"medium":0.9,"high":0.8}}`))
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = ParseModel([]byte(`not json`))
	assert.Error(t, err)
}

func TestDetectorReloadKeepsModelOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"version":"v2","dim":1,"bias":3,"weights":[0],"thresholds":{"medium":0.5,"high":0.9}}`), 0o600))

	d := NewDetector(nil, nil, nil)
	level, _ := d.Classify("hello")
	assert.Equal(t, models.SeverityNone, level)

	require.NoError(t, d.ReloadFrom(path))
	assert.Equal(t, "v2", d.Model().Version)
	level, _ = d.Classify("hello")
	assert.Equal(t, models.SeverityHigh, level)

	require.NoError(t, os.WriteFile(path, []byte(`{"dim":0}`), 0o600))
	assert.Error(t, d.ReloadFrom(path))
	assert.Equal(t, "v2", d.Model().Version)
}
