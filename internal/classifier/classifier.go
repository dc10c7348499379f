// Package classifier runs the second-stage linear model over hashed
// character n-grams and keyword features.
package classifier

import (
	"math"
	"strings"
	"sync/atomic"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/normalize"
)

// InferenceFeatures is the hashing used by Features. Model.Validate rejects
// artifacts that declare a different one.
var InferenceFeatures = FeatureSpec{
	Hash:         "murmur3-32",
	NGrams:       []int{2, 3},
	KeywordBoost: 3.0,
}

// DefaultKeywords are grooming phrases that get a boosted feature.
var DefaultKeywords = []string{
	"our secret",
	"dont tell",
	"don't tell",
	"delete this",
	"how old are you",
	"are you alone",
	"send a pic",
	"send me a pic",
	"webcam",
	"meet up",
	"gift card",
	"telegram",
	"snapchat",
	"whatsapp",
	"mature for your age",
}

// Inference is the raw model output.
type Inference struct {
	Logit float64 `json:"logit"`
	Prob  float64 `json:"prob"`
}

// Infer scores text. A nil model or empty text scores zero.
func Infer(text string, model *Model, keywords []string) Inference {
	if model == nil || model.Dim <= 0 {
		return Inference{}
	}
	norm := normalize.Normalize(text)
	if norm == "" {
		return Inference{}
	}

	features := Features(norm, model.Dim, keywords)
	logit := model.Bias
	for id, v := range features {
		if id < len(model.Weights) {
			logit += model.Weights[id] * v
		}
	}
	return Inference{Logit: logit, Prob: sigmoid(logit)}
}

// Classify maps Infer's probability onto NONE, MEDIUM or HIGH.
func Classify(text string, model *Model, keywords []string) (models.Severity, float64) {
	if model == nil {
		return models.SeverityNone, 0
	}
	inf := Infer(text, model, keywords)
	switch {
	case inf.Prob == 0:
		return models.SeverityNone, 0
	case inf.Prob >= model.Thresholds.High:
		return models.SeverityHigh, inf.Prob
	case inf.Prob >= model.Thresholds.Medium:
		return models.SeverityMedium, inf.Prob
	}
	return models.SeverityNone, inf.Prob
}

// Features builds the L2-normalized sparse vector for already-normalized
// text: counted character n-grams plus one boosted bucket per keyword found.
func Features(norm string, dim int, keywords []string) map[int]float64 {
	vec := make(map[int]float64)
	runes := []rune(norm)
	for _, n := range InferenceFeatures.NGrams {
		for i := 0; i+n <= len(runes); i++ {
			vec[bucket(string(runes[i:i+n]), dim)]++
		}
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(norm, kw) {
			vec[bucket("kw:"+kw, dim)] += InferenceFeatures.KeywordBoost
		}
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	l2 := math.Sqrt(sum)
	for id, v := range vec {
		vec[id] = v / l2
	}
	return vec
}

func bucket(feature string, dim int) int {
	return int(murmur3.Sum32([]byte(feature)) % uint32(dim))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Detector holds the active model and keyword list. The model may be swapped
// at runtime; a nil model disables the classifier stage.
type Detector struct {
	model    atomic.Pointer[Model]
	keywords []string
	logger   *zap.Logger
}

// NewDetector creates a detector. keywords nil means DefaultKeywords. Keywords
// are normalized the same way as message text before matching.
func NewDetector(model *Model, keywords []string, logger *zap.Logger) *Detector {
	if keywords == nil {
		keywords = DefaultKeywords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{keywords: normalizeKeywords(keywords), logger: logger}
	if model != nil {
		d.model.Store(model)
	}
	return d
}

func normalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if n := normalize.Normalize(kw); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// SetModel installs a new model.
func (d *Detector) SetModel(m *Model) {
	d.model.Store(m)
	if m != nil {
		d.logger.Info("Classifier model installed", zap.String("version", m.Version), zap.Int("dim", m.Dim))
	}
}

// Model returns the active model, or nil.
func (d *Detector) Model() *Model {
	return d.model.Load()
}

// ReloadFrom loads and validates a model file, keeping the current model on error.
func (d *Detector) ReloadFrom(path string) error {
	m, err := LoadModel(path)
	if err != nil {
		return err
	}
	d.SetModel(m)
	return nil
}

// Classify scores text with the active model.
func (d *Detector) Classify(text string) (models.Severity, float64) {
	return Classify(text, d.model.Load(), d.keywords)
}
