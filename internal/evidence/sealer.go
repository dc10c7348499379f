// Package evidence seals frozen snapshots into encrypted packets, redacting
// turns that played no part in the detection.
package evidence

import (
	"errors"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/crypto"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/normalize"
	"github.com/hwinnwin/guardian-aegis-core-sub000/internal/rules"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultRedactionToken = "[REDACTED]"

	FieldText       = "text"
	FieldSenderName = "sender.name"
	metadataPrefix  = "metadata."
)

var ErrNilSnapshot = errors.New("snapshot is nil")

// Config selects the interaction fields subject to redaction. Entries are
// "text", "sender.name" or "metadata.<key>".
type Config struct {
	TextFields     []string `yaml:"text_fields"`
	RedactionToken string   `yaml:"redaction_token"`
}

type Sealer struct {
	fields []string
	token  string
	logger *zap.Logger
}

func NewSealer(cfg Config, logger *zap.Logger) (*Sealer, error) {
	fields := cfg.TextFields
	if len(fields) == 0 {
		fields = []string{FieldText}
	}
	for _, f := range fields {
		if f != FieldText && f != FieldSenderName && !(strings.HasPrefix(f, metadataPrefix) && len(f) > len(metadataPrefix)) {
			return nil, fmt.Errorf("%w: unknown evidence field %q", models.ErrValidation, f)
		}
	}
	token := cfg.RedactionToken
	if token == "" {
		token = DefaultRedactionToken
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sealer{fields: fields, token: token, logger: logger}, nil
}

// Seal redacts and encrypts snap under deviceKey. The packet takes the
// snapshot's id and capture time.
func (s *Sealer) Seal(snap *models.Snapshot, severity models.Severity, reason string, dctx models.DetectionContext, deviceKey []byte) (*models.EvidencePacket, error) {
	if snap == nil {
		return nil, ErrNilSnapshot
	}

	matchers := provenance(dctx)
	interactions := make([]models.Interaction, len(snap.Interactions))
	redacted := 0
	for i, in := range snap.Interactions {
		in = in.Clone()
		if !s.keep(in, matchers) {
			s.redact(&in)
			redacted++
		}
		interactions[i] = in
	}

	payload := models.EvidencePayload{
		CreatedAtMs:  snap.CapturedAtMs,
		Severity:     severity,
		Reason:       reason,
		Label:        dctx.Label,
		Reasons:      dctx.Reasons,
		Interactions: interactions,
	}
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence: %w", err)
	}
	sealed, err := crypto.Seal(plaintext, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to seal evidence: %w", err)
	}

	s.logger.Debug("Evidence sealed",
		zap.String("id", snap.ID),
		zap.Int("interactions", len(interactions)),
		zap.Int("redacted", redacted),
		zap.Int("provenance_matchers", len(matchers)))

	return &models.EvidencePacket{
		ID:          snap.ID,
		CreatedAtMs: snap.CapturedAtMs,
		Sealed:      sealed,
		Meta: models.EvidenceMeta{
			Severity:         severity,
			Reason:           reason,
			InteractionCount: len(interactions),
		},
	}, nil
}

// Unseal authenticates and decodes a sealed payload.
func Unseal(sealed, deviceKey []byte) (*models.EvidencePayload, error) {
	plaintext, err := crypto.Open(sealed, deviceKey)
	if err != nil {
		return nil, err
	}
	payload := &models.EvidencePayload{}
	if err := json.Unmarshal(plaintext, payload); err != nil {
		return nil, fmt.Errorf("failed to decode evidence: %w", err)
	}
	return payload, nil
}

func provenance(dctx models.DetectionContext) []*rules.Matcher {
	sources := dctx.PatternSources
	if len(sources) == 0 {
		sources = dctx.Reasons
	}
	matchers, _ := rules.CompileAll(sources)
	return matchers
}

// keep matches raw and folded text so a leetspeak trigger survives redaction.
func (s *Sealer) keep(in models.Interaction, matchers []*rules.Matcher) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, field := range s.fields {
		text, ok := fieldValue(in, field)
		if !ok || text == "" {
			continue
		}
		folded := normalize.Normalize(text)
		for _, m := range matchers {
			if m.Match(text) || m.Match(folded) {
				return true
			}
		}
	}
	return false
}

func (s *Sealer) redact(in *models.Interaction) {
	for _, field := range s.fields {
		switch {
		case field == FieldText:
			in.Text = s.token
		case field == FieldSenderName:
			if in.Sender.Name != "" {
				in.Sender.Name = s.token
			}
		case strings.HasPrefix(field, metadataPrefix):
			key := strings.TrimPrefix(field, metadataPrefix)
			if _, ok := in.Metadata[key]; ok {
				in.Metadata[key] = s.token
			}
		}
	}
}

func fieldValue(in models.Interaction, field string) (string, bool) {
	switch {
	case field == FieldText:
		return in.Text, true
	case field == FieldSenderName:
		return in.Sender.Name, true
	case strings.HasPrefix(field, metadataPrefix):
		v, ok := in.Metadata[strings.TrimPrefix(field, metadataPrefix)]
		return v, ok
	}
	return "", false
}
