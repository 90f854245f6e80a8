package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractCapabilities(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", []string{}},
		{"single tag", "Research the market", []string{"data_collection"}},
		{"case insensitive", "IMPLEMENT the thing", []string{"code_generation"}},
		{"substring match", "run the testing suite", []string{"testing"}},
		{"vocabulary order", "Write a plan then implement and test it", []string{"code_generation", "documentation", "testing", "planning"}},
		{"no keywords", "hello world", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCapabilities(tt.text))
		})
	}
}

func TestPatternSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Build login form", "Build login form", 1},
		{"short words ignored", "a an the", "a an the", 0},
		{"one empty", "", "Build login form", 0},
		{"case folded", "BUILD Login", "build login", 1},
		{"half shared", "build login", "build signup", 0.5},
		{"larger set divides", "build login form page", "build", 0.25},
		{"repeated words count once", "build build build", "build", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, PatternSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCapabilityOverlap(t *testing.T) {
	assert.InDelta(t, 0.5, CapabilityOverlap([]string{"code_generation", "testing"}, []string{"code_generation"}), 1e-9)
	assert.InDelta(t, 1.0, CapabilityOverlap([]string{"analysis"}, []string{"analysis", "planning"}), 1e-9)
	assert.Zero(t, CapabilityOverlap(nil, []string{"analysis"}))
	assert.Zero(t, CapabilityOverlap([]string{"analysis"}, nil))
}

func TestScoreReasons(t *testing.T) {
	th := DefaultThresholds()

	t.Run("all signals", func(t *testing.T) {
		agent := RegisteredAgent{
			Capabilities: []string{"documentation"},
			TaskPattern:  "Write API documentation",
			UsageCount:   3,
		}
		m := th.score(agent, []string{"documentation"}, "Write API documentation")
		assert.InDelta(t, 1.0, m.Score, 1e-9)
		assert.Equal(t, "100% capability match, similar task pattern, used 3x before", m.Reason)
	})

	t.Run("no signal", func(t *testing.T) {
		agent := RegisteredAgent{
			Capabilities: []string{"code_generation"},
			TaskPattern:  "implement some widget thing",
			UsageCount:   1,
		}
		m := th.score(agent, []string{"code_generation", "testing"}, "Implement test harness")
		assert.InDelta(t, 0.6*0.5+0.4*0.25, m.Score, 1e-9)
		assert.Equal(t, "partial match", m.Reason)
	})
}
