// Package safety screens user input through two gates: a deterministic
// crisis-keyword scan and the provider moderation endpoint. Both must pass
// for a turn to proceed.
package safety

import (
	"context"
	"log/slog"
	"strings"

	"github.com/storyweave/storyweave/pkg/llm"
	"github.com/storyweave/storyweave/pkg/models"
)

// keywordFamilies maps each disclosure family to its trigger phrases. Any
// match is critical and reportable.
var keywordFamilies = []struct {
	disclosure models.DisclosureType
	phrases    []string
}{
	{models.DisclosureSelfHarm, []string{
		"hurt myself", "kill myself", "suicide", "want to die",
	}},
	{models.DisclosureAbuse, []string{
		"abuse", "molest", "touch me", "hurt me",
	}},
	{models.DisclosureDomestic, []string{
		"scared", "afraid", "hitting me", "yelling at me",
	}},
	{models.DisclosureSecrecy, []string{
		"don't tell anyone", "secret", "no one can know",
	}},
}

// Moderator runs the two-gate screen.
type Moderator struct {
	llm    llm.Client
	logger *slog.Logger
}

// NewModerator builds a Moderator over the provider client.
func NewModerator(client llm.Client, logger *slog.Logger) *Moderator {
	return &Moderator{llm: client, logger: logger.With("component", "safety")}
}

// CheckInput screens input and combines both gates at max severity. A
// moderation-endpoint failure fails safe at medium severity without marking
// the turn reportable.
func (m *Moderator) CheckInput(ctx context.Context, input string, userAge int) models.SafetyCheckResult {
	result := keywordGate(input)

	mod, err := m.llm.Moderate(ctx, input)
	if err != nil {
		m.logger.Warn("moderation endpoint failed, failing safe", "error", err)
		result.Severity = models.MaxSeverity(result.Severity, models.SeverityMedium)
		result.Flags = append(result.Flags, "check-failed")
		result.Safe = false
		return result
	}

	combine(&result, mod, userAge)
	result.Safe = result.Severity == models.SeverityNone
	return result
}

// keywordGate scans for crisis phrases. First matching family wins.
func keywordGate(input string) models.SafetyCheckResult {
	lower := strings.ToLower(input)
	for _, family := range keywordFamilies {
		for _, phrase := range family.phrases {
			if strings.Contains(lower, phrase) {
				return models.SafetyCheckResult{
					Severity:                   models.SeverityCritical,
					DisclosureType:             family.disclosure,
					RequiresMandatoryReporting: true,
					Flags:                      []string{"crisis-keyword"},
				}
			}
		}
	}
	return models.SafetyCheckResult{Safe: true, Severity: models.SeverityNone}
}

// combine folds the moderation categories into the keyword result.
func combine(result *models.SafetyCheckResult, mod llm.ModerationResult, userAge int) {
	raise := func(sev models.Severity, flag string) {
		result.Severity = models.MaxSeverity(result.Severity, sev)
		result.Flags = append(result.Flags, flag)
	}

	switch {
	case mod.SelfHarmIntent:
		raise(models.SeverityCritical, "moderation:self-harm-intent")
		result.RequiresMandatoryReporting = true
		if result.DisclosureType == "" {
			result.DisclosureType = models.DisclosureSelfHarmIntent
		}
	case mod.SelfHarm:
		raise(models.SeverityCritical, "moderation:self-harm")
		result.RequiresMandatoryReporting = true
		if result.DisclosureType == "" {
			result.DisclosureType = models.DisclosureSelfHarm
		}
	}

	minor := userAge > 0 && userAge < 13
	if mod.Violence {
		raise(models.SeverityHigh, "moderation:violence")
		if minor {
			result.RequiresMandatoryReporting = true
			if result.DisclosureType == "" {
				result.DisclosureType = models.DisclosureViolence
			}
		}
	}
	if mod.Sexual {
		raise(models.SeverityHigh, "moderation:sexual")
		if minor {
			result.RequiresMandatoryReporting = true
			if result.DisclosureType == "" {
				result.DisclosureType = models.DisclosureSexual
			}
		}
	}
	if mod.Hate {
		raise(models.SeverityMedium, "moderation:hate")
	}
}
