package detectors

// DetectorInput represents the input for PII detection
type DetectorInput struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// DetectorOutput represents the output of PII detection
type DetectorOutput struct {
	Text     string   `json:"text"`
	Entities []Entity `json:"entities"`
}

// Entity represents a detected PII span. StartPos and EndPos are byte
// offsets into the input text, half-open.
type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	StartPos   int     `json:"start_pos"`
	EndPos     int     `json:"end_pos"`
	Confidence float64 `json:"confidence"`
}
