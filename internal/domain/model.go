package domain

// Classifier is the engine's view of the pre-trained risk model.
// The artifact bundles the model together with its canonical feature-name
// ordering; the engine never re-derives that list, to avoid train/serve
// skew.
type Classifier interface {
	// PredictProbability returns the probability in [0,1] that the
	// feature vector describes a risky return. The vector must follow
	// FeatureNames order.
	PredictProbability(features []float64) (float64, error)

	// FeatureNames returns the canonical feature ordering the model was
	// trained on.
	FeatureNames() []string

	// Available reports whether a model artifact was loaded. When false
	// the engine runs rule-only (degraded mode); a zero probability from
	// an unavailable model means "no model", not "no risk".
	Available() bool
}

// ModelConfig holds classifier artifact settings.
type ModelConfig struct {
	// Path to the JSON forest artifact. Load is attempted once at
	// startup; a missing or corrupt artifact puts the engine in
	// degraded mode for the process lifetime.
	Path string
}
