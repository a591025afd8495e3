package intent

import (
	"regexp"
	"strings"

	"github.com/storyweave/storyweave/pkg/models"
)

// switchPatterns detect a different child taking over on a shared device.
// Each pattern captures the child's name.
var switchPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bthis is for (\w+)`),
	regexp.MustCompile(`(?i)\b(\w+)'s turn\b`),
	regexp.MustCompile(`(?i)\bswitch to (\w+)`),
	regexp.MustCompile(`(?i)\blet (\w+) play\b`),
	regexp.MustCompile(`(?i)\b(\w+) wants to\b`),
	regexp.MustCompile(`(?i)\bmake one for (\w+)`),
	regexp.MustCompile(`(?i)\bcreate for (\w+)`),
	regexp.MustCompile(`(?i)\bfor (\w+)\b`),
}

var storyKeywords = []string{
	"story", "tale", "adventure", "character",
	"princess", "knight", "create", "generate",
}

// HandleUnrecognizedIntent is the deterministic fallback used when the
// classifier is unavailable or its answer fails validation.
func (c *Classifier) HandleUnrecognizedIntent(turn models.TurnContext, cc ClassificationContext) models.Intent {
	input := turn.UserInput

	// Multi-child switching has the highest precedence: on a shared device a
	// misrouted story is worse than a misclassified one.
	if name := matchChildSwitch(input); name != "" {
		return models.Intent{
			Type:        models.IntentUnknown,
			Confidence:  0.9,
			TargetAgent: models.AgentLibrary,
			Parameters: map[string]any{
				"action":    "switch_child",
				"childName": name,
			},
		}
	}

	lower := strings.ToLower(input)
	for _, kw := range storyKeywords {
		if strings.Contains(lower, kw) {
			intent := models.Intent{
				Type:              models.IntentCreateStory,
				Confidence:        0.2,
				ConversationPhase: models.PhaseCharacterCreation,
			}
			finalize(&intent)
			return intent
		}
	}

	switch cc.CurrentPhase {
	case models.PhaseCharacterCreation:
		intent := models.Intent{Type: models.IntentCreateCharacter, Confidence: 0.2}
		finalize(&intent)
		return intent
	case models.PhaseStoryBuilding:
		intent := models.Intent{Type: models.IntentContinueStory, Confidence: 0.2}
		finalize(&intent)
		return intent
	}

	intent := models.Intent{Type: models.IntentUnknown, Confidence: 0}
	finalize(&intent)
	return intent
}

// notNames are captures that are pronouns or articles, not a child's name.
var notNames = map[string]bool{
	"me": true, "us": true, "you": true, "them": true, "him": true, "her": true,
	"a": true, "an": true, "the": true, "my": true, "our": true, "it": true,
}

// matchChildSwitch returns the captured child name, or empty.
func matchChildSwitch(input string) string {
	for _, re := range switchPatterns {
		if m := re.FindStringSubmatch(input); m != nil && !notNames[strings.ToLower(m[1])] {
			return m[1]
		}
	}
	return ""
}

// SuggestStoryTypes returns up to three story types matching the input and
// the child's age, with age-bucketed defaults when nothing matches.
func SuggestStoryTypes(input string, age int) []models.StoryType {
	var matched []models.StoryType
	for _, t := range models.StoryTypeOrder {
		meta := models.StoryTypeCatalog[t]
		if age > 0 && !meta.InAgeRange(age) {
			continue
		}
		if meta.MatchesKeywords(input) {
			matched = append(matched, t)
		}
		if len(matched) == 3 {
			return matched
		}
	}
	if len(matched) > 0 {
		return matched
	}

	switch {
	case age > 0 && age <= 5:
		return []models.StoryType{models.StoryBedtime, models.StoryAdventure}
	case age > 0 && age <= 8:
		return []models.StoryType{models.StoryAdventure, models.StoryEducational}
	default:
		return []models.StoryType{models.StoryAdventure, models.StoryMilestones}
	}
}
