package testutil

// FixedTraceGenerator generates the same trace token every time.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same FixedTraceGenerator produces byte-identical
// traces.
//
// Unlike engine.FixedGenerator which returns tokens in sequence, this
// generator always returns the same token, so every top-level dispatch of a
// scenario shares it.
//
// Thread-safety: FixedTraceGenerator is stateless and safe for concurrent use.
type FixedTraceGenerator struct {
	token string
}

// NewFixedTraceGenerator creates a new fixed trace token generator.
//
// The token is typically set in the scenario YAML:
//
//	trace_token: "trace-bump"
//
// If token is empty, Generate() returns "test-trace-default".
func NewFixedTraceGenerator(token string) *FixedTraceGenerator {
	if token == "" {
		token = "test-trace-default"
	}
	return &FixedTraceGenerator{token: token}
}

// Generate returns the fixed trace token.
//
// Implements engine.TraceGenerator.
func (g *FixedTraceGenerator) Generate() string {
	return g.token
}
