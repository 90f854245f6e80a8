package registry

import (
	"fmt"
	"math"
	"strings"
)

type capability struct {
	tag      string
	keywords []string
}

// vocabulary is ordered; extracted tags follow this order.
var vocabulary = []capability{
	{"code_generation", []string{"code", "implement", "build", "develop", "program", "script"}},
	{"analysis", []string{"analyze", "evaluate", "review", "assess", "examine", "inspect"}},
	{"data_collection", []string{"collect", "gather", "fetch", "research", "scrape", "retrieve"}},
	{"synthesis", []string{"create", "generate", "compose", "design", "produce", "craft"}},
	{"documentation", []string{"document", "write", "describe", "explain", "summarize"}},
	{"testing", []string{"test", "validate", "verify", "check", "debug"}},
	{"optimization", []string{"optimize", "improve", "enhance", "refine", "tune"}},
	{"planning", []string{"plan", "architect", "structure", "organize", "outline"}},
}

// ExtractCapabilities returns every capability tag with at least one keyword
// occurring in text. Matching is a case-insensitive substring test, so
// "testing" earns the testing tag.
func ExtractCapabilities(text string) []string {
	lower := strings.ToLower(text)
	tags := []string{}
	for _, c := range vocabulary {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				tags = append(tags, c.tag)
				break
			}
		}
	}
	return tags
}

func significantWords(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len([]rune(w)) > 3 {
			words[w] = struct{}{}
		}
	}
	return words
}

// PatternSimilarity is the share of significant words (longer than three
// characters) that two texts have in common, relative to the larger set.
func PatternSimilarity(a, b string) float64 {
	wa, wb := significantWords(a), significantWords(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	overlap := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(max(len(wa), len(wb)))
}

// CapabilityOverlap is the fraction of task tags the agent also carries.
func CapabilityOverlap(taskTags, agentTags []string) float64 {
	if len(taskTags) == 0 {
		return 0
	}

	have := make(map[string]bool, len(agentTags))
	for _, tag := range agentTags {
		have[tag] = true
	}
	shared := 0
	for _, tag := range taskTags {
		if have[tag] {
			shared++
		}
	}
	return float64(shared) / float64(len(taskTags))
}

// score rates one candidate against a task's tags and title.
func (th Thresholds) score(agent RegisteredAgent, taskTags []string, title string) AgentMatch {
	overlap := CapabilityOverlap(taskTags, agent.Capabilities)
	similarity := PatternSimilarity(agent.TaskPattern, title)

	var reasons []string
	if overlap > th.CapabilityReason {
		reasons = append(reasons, fmt.Sprintf("%d%% capability match", int(math.Round(overlap*100))))
	}
	if similarity > th.PatternReason {
		reasons = append(reasons, "similar task pattern")
	}
	if agent.UsageCount > 1 {
		reasons = append(reasons, fmt.Sprintf("used %dx before", agent.UsageCount))
	}
	reason := strings.Join(reasons, ", ")
	if reason == "" {
		reason = "partial match"
	}

	return AgentMatch{
		Agent:  agent,
		Score:  th.CapabilityWeight*overlap + th.PatternWeight*similarity,
		Reason: reason,
	}
}
