package models

// ConversationPhase is the high-level position of a session in the story
// state machine.
type ConversationPhase string

const (
	PhaseGreeting          ConversationPhase = "greeting"
	PhaseEmotionCheck      ConversationPhase = "emotion_check"
	PhaseCharacterCreation ConversationPhase = "character_creation"
	PhaseStoryBuilding     ConversationPhase = "story_building"
	PhaseStoryEditing      ConversationPhase = "story_editing"
	PhaseAssetGeneration   ConversationPhase = "asset_generation"
	PhaseCompletion        ConversationPhase = "completion"
)

// phaseTransitions is the legal transition table. A requested transition not
// listed here is coerced back to the source phase and logged as an anomaly.
var phaseTransitions = map[ConversationPhase][]ConversationPhase{
	PhaseGreeting:          {PhaseEmotionCheck, PhaseCharacterCreation, PhaseStoryBuilding},
	PhaseEmotionCheck:      {PhaseCharacterCreation, PhaseStoryBuilding, PhaseGreeting},
	PhaseCharacterCreation: {PhaseStoryBuilding, PhaseCharacterCreation},
	PhaseStoryBuilding:     {PhaseStoryEditing, PhaseAssetGeneration, PhaseStoryBuilding},
	PhaseStoryEditing:      {PhaseAssetGeneration, PhaseStoryBuilding},
	PhaseAssetGeneration:   {PhaseCompletion, PhaseStoryEditing},
	PhaseCompletion:        {PhaseGreeting},
}

// ValidPhase reports whether p is a known conversation phase.
func ValidPhase(p ConversationPhase) bool {
	if p == "" {
		return false
	}
	_, ok := phaseTransitions[p]
	return ok
}

// CanTransition reports whether from -> to is a legal phase transition.
// Staying in the same phase is always legal.
func CanTransition(from, to ConversationPhase) bool {
	if from == to {
		return true
	}
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SignificantPhase reports whether a phase warrants a durable row-store copy
// of the session context (character_creation and later).
func SignificantPhase(p ConversationPhase) bool {
	switch p {
	case PhaseCharacterCreation, PhaseStoryBuilding, PhaseStoryEditing,
		PhaseAssetGeneration, PhaseCompletion:
		return true
	}
	return false
}
