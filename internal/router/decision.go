package router

import "github.com/hwinnwin/guardian-aegis-core-sub000/internal/models"

type Action string

const (
	ActionNone      Action = "none"
	ActionAdvisory  Action = "advisory"
	ActionDetection Action = "detection"
)

// Decision records what HandleMessage did with one interaction.
type Decision struct {
	Action         Action     `json:"action"`
	Detection      *Detection `json:"detection,omitempty"`
	Advisories     []Advisory `json:"advisories,omitempty"`
	Suppressed     []string   `json:"suppressed,omitempty"`
	ClassifierProb float64    `json:"classifierProb"`
}

type Detection struct {
	Label      string          `json:"label"`
	Severity   models.Severity `json:"severity"`
	Reason     string          `json:"reason"`
	EvidenceID string          `json:"evidenceId,omitempty"`
	// Degraded is set when evidence, alert or lockdown failed after the block.
	Degraded bool `json:"degraded,omitempty"`
}

type Advisory struct {
	Label    string          `json:"label"`
	Severity models.Severity `json:"severity"`
}
