package classifier

import (
	"errors"
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrInvalidModel    = errors.New("invalid classifier model")
	ErrFeatureMismatch = errors.New("model was trained with different feature hashing")
)

// Thresholds map a probability to a level.
type Thresholds struct {
	Medium float64 `json:"medium"`
	High   float64 `json:"high"`
}

// FeatureSpec names the hashing parameters a model was trained with.
type FeatureSpec struct {
	Hash         string  `json:"hash"`
	NGrams       []int   `json:"ngrams"`
	KeywordBoost float64 `json:"keywordBoost"`
}

// Model is a versioned linear model over hashed features.
type Model struct {
	Version     string       `json:"version"`
	Dim         int          `json:"dim"`
	Bias        float64      `json:"bias"`
	Weights     []float64    `json:"weights"`
	CreatedAtMs int64        `json:"createdAt"`
	Thresholds  Thresholds   `json:"thresholds"`
	Features    *FeatureSpec `json:"features,omitempty"`
}

// Validate checks the shape of the artifact and that its feature spec, when
// present, matches the inference path.
func (m *Model) Validate() error {
	if m.Dim <= 0 {
		return fmt.Errorf("%w: dim must be positive, got %d", ErrInvalidModel, m.Dim)
	}
	if len(m.Weights) != m.Dim {
		return fmt.Errorf("%w: %d weights for dim %d", ErrInvalidModel, len(m.Weights), m.Dim)
	}
	t := m.Thresholds
	if t.Medium <= 0 || t.Medium > 1 || t.High <= 0 || t.High > 1 || t.Medium > t.High {
		return fmt.Errorf("%w: thresholds medium=%v high=%v", ErrInvalidModel, t.Medium, t.High)
	}
	if m.Features != nil && !m.Features.equal(InferenceFeatures) {
		return fmt.Errorf("%w: model %+v, inference %+v", ErrFeatureMismatch, *m.Features, InferenceFeatures)
	}
	return nil
}

func (f FeatureSpec) equal(other FeatureSpec) bool {
	if f.Hash != other.Hash || f.KeywordBoost != other.KeywordBoost || len(f.NGrams) != len(other.NGrams) {
		return false
	}
	for i := range f.NGrams {
		if f.NGrams[i] != other.NGrams[i] {
			return false
		}
	}
	return true
}

// ParseModel decodes and validates a model artifact.
func ParseModel(data []byte) (*Model, error) {
	m := &Model{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode model: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadModel reads a model artifact from disk.
func LoadModel(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	return ParseModel(data)
}
