package domain

// AgentDescriptor is the identity an agent exposes to the classifier.
type AgentDescriptor interface {
	Name() string
	Description() string
}

// ClassifierResult is the routing decision produced by a classifier.
// An empty SelectedAgent means no decision was present.
type ClassifierResult struct {
	SelectedAgent string  `json:"selectedAgent"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// ProgressFunc receives human-readable status updates. Nil is allowed.
type ProgressFunc func(status string)

// Emit calls f if it is set.
func (f ProgressFunc) Emit(status string) {
	if f != nil {
		f(status)
	}
}
