package models

// Snapshot is a frozen copy of the rolling window taken at detection time.
type Snapshot struct {
	ID           string        `json:"id"`
	Interactions []Interaction `json:"interactions"`
	CapturedAtMs int64         `json:"capturedAtMs"`
	Reason       string        `json:"reason"`
	ThreatLevel  Severity      `json:"threatLevel"`
}

// DetectionHit is one label's result for a single evaluation.
type DetectionHit struct {
	Label          string   `json:"label"`
	Severity       Severity `json:"severity"`
	Reasons        []string `json:"reasons"`
	PatternSources []string `json:"patternSources"`
}

// DetectionContext travels from the detector into the router and sealer.
type DetectionContext struct {
	Label          string   `json:"label"`
	Reasons        []string `json:"reasons,omitempty"`
	PatternSources []string `json:"patternSources,omitempty"`
	SenderID       string   `json:"senderId,omitempty"`
	MessageTs      int64    `json:"messageTs,omitempty"`
}

// EvidenceMeta is stored in the clear next to the sealed bytes.
type EvidenceMeta struct {
	Severity         Severity `json:"severity" db:"severity"`
	Reason           string   `json:"reason,omitempty" db:"reason"`
	InteractionCount int      `json:"interactionCount" db:"interaction_count"`
}

// EvidencePacket is a sealed snapshot. Sealed is nonce || ciphertext.
type EvidencePacket struct {
	ID          string       `json:"id"`
	CreatedAtMs int64        `json:"createdAt"`
	Sealed      []byte       `json:"sealed"`
	Meta        EvidenceMeta `json:"meta"`
}

// EvidencePayload is the plaintext inside an evidence packet.
type EvidencePayload struct {
	CreatedAtMs  int64         `json:"createdAt"`
	Severity     Severity      `json:"severity"`
	Reason       string        `json:"reason"`
	Label        string        `json:"label"`
	Reasons      []string      `json:"reasons"`
	Interactions []Interaction `json:"interactions"`
}

// ParentAlert is handed to the alerts collaborator.
type ParentAlert struct {
	ID          string   `json:"id" db:"id"`
	CreatedAtMs int64    `json:"createdAt" db:"created_at_ms"`
	Severity    Severity `json:"severity" db:"severity"`
	Headline    string   `json:"headline" db:"headline"`
	EvidenceID  string   `json:"evidenceId" db:"evidence_id"`
	Label       string   `json:"label,omitempty" db:"label"`
	Reasons     []string `json:"reasons,omitempty" db:"-"`
	SenderID    string   `json:"senderId,omitempty" db:"sender_id"`
}
