package models

import "strings"

// StoryType is the genre or therapeutic category of a story. It drives prompt
// selection in the downstream content agent.
type StoryType string

const (
	StoryAdventure         StoryType = "adventure"
	StoryBedtime           StoryType = "bedtime"
	StoryBirthday          StoryType = "birthday"
	StoryEducational       StoryType = "educational"
	StoryFinancialLiteracy StoryType = "financial_literacy"
	StoryLanguageLearning  StoryType = "language_learning"
	StoryMedicalBravery    StoryType = "medical_bravery"
	StoryMentalHealth      StoryType = "mental_health"
	StoryMilestones        StoryType = "milestones"
	StoryMusic             StoryType = "music"
	StoryNewBirth          StoryType = "new_birth"
	StoryTechReadiness     StoryType = "tech_readiness"
	StoryChildLoss         StoryType = "child_loss"
	StoryInnerChild        StoryType = "inner_child"
)

// StoryTypeMeta carries the prompt metadata for one story type.
type StoryTypeMeta struct {
	Type                 StoryType
	AgeRange             [2]int
	Keywords             []string
	Description          string
	ConversationStarters []string
}

// StoryTypeCatalog is the canonical story-type catalog, indexed by type.
var StoryTypeCatalog = map[StoryType]StoryTypeMeta{
	StoryAdventure: {
		Type: StoryAdventure, AgeRange: [2]int{3, 12},
		Keywords:    []string{"adventure", "quest", "explore", "journey", "treasure", "brave"},
		Description: "Exciting journeys with challenges to overcome",
		ConversationStarters: []string{
			"Where should our adventure take us today?",
			"Who is going on this big adventure?",
		},
	},
	StoryBedtime: {
		Type: StoryBedtime, AgeRange: [2]int{2, 8},
		Keywords:    []string{"sleep", "bedtime", "night", "dream", "cozy", "moon", "stars"},
		Description: "Calm, soothing stories for winding down",
		ConversationStarters: []string{
			"Let's make a sleepy story. Who is getting ready for bed?",
		},
	},
	StoryBirthday: {
		Type: StoryBirthday, AgeRange: [2]int{2, 12},
		Keywords:    []string{"birthday", "party", "cake", "presents", "celebrate"},
		Description: "Celebration stories for a special day",
		ConversationStarters: []string{
			"Whose birthday is it? Let's make it magical!",
		},
	},
	StoryEducational: {
		Type: StoryEducational, AgeRange: [2]int{4, 12},
		Keywords:    []string{"learn", "school", "science", "numbers", "letters", "facts"},
		Description: "Learning woven into a story",
		ConversationStarters: []string{
			"What would you like to learn about in our story?",
		},
	},
	StoryFinancialLiteracy: {
		Type: StoryFinancialLiteracy, AgeRange: [2]int{5, 12},
		Keywords:    []string{"money", "save", "saving", "spend", "piggy bank", "allowance"},
		Description: "Money basics through storytelling",
		ConversationStarters: []string{
			"Should our hero save up for something special?",
		},
	},
	StoryLanguageLearning: {
		Type: StoryLanguageLearning, AgeRange: [2]int{3, 12},
		Keywords:    []string{"language", "spanish", "french", "words", "translate", "bilingual"},
		Description: "New words and phrases inside a story",
		ConversationStarters: []string{
			"Which language should our story sprinkle in?",
		},
	},
	StoryMedicalBravery: {
		Type: StoryMedicalBravery, AgeRange: [2]int{3, 10},
		Keywords:    []string{"doctor", "hospital", "shot", "dentist", "brave", "checkup"},
		Description: "Courage stories for medical visits",
		ConversationStarters: []string{
			"Who is being brave at the doctor today?",
		},
	},
	StoryMentalHealth: {
		Type: StoryMentalHealth, AgeRange: [2]int{4, 12},
		Keywords:    []string{"feelings", "worried", "anxious", "calm", "breathe", "emotions"},
		Description: "Gentle stories about big feelings",
		ConversationStarters: []string{
			"How is our hero feeling today?",
		},
	},
	StoryMilestones: {
		Type: StoryMilestones, AgeRange: [2]int{3, 12},
		Keywords:    []string{"first day", "new school", "big kid", "milestone", "growing up"},
		Description: "Stories for firsts and big steps",
		ConversationStarters: []string{
			"What big step is coming up?",
		},
	},
	StoryMusic: {
		Type: StoryMusic, AgeRange: [2]int{2, 10},
		Keywords:    []string{"music", "song", "sing", "dance", "instrument", "rhythm"},
		Description: "Musical stories with songs and rhythm",
		ConversationStarters: []string{
			"Should our story have a song in it?",
		},
	},
	StoryNewBirth: {
		Type: StoryNewBirth, AgeRange: [2]int{2, 10},
		Keywords:    []string{"baby", "sibling", "brother", "sister", "new baby"},
		Description: "Welcoming a new family member",
		ConversationStarters: []string{
			"Is someone becoming a big brother or sister?",
		},
	},
	StoryTechReadiness: {
		Type: StoryTechReadiness, AgeRange: [2]int{5, 12},
		Keywords:    []string{"computer", "internet", "online", "robot", "screen time", "safety"},
		Description: "Healthy habits with technology",
		ConversationStarters: []string{
			"What should our hero learn about the digital world?",
		},
	},
	StoryChildLoss: {
		Type: StoryChildLoss, AgeRange: [2]int{18, 99},
		Keywords:    []string{"loss", "grief", "remember", "memory", "goodbye"},
		Description: "Therapeutic remembrance stories for grieving families",
		ConversationStarters: []string{
			"Would you like to share a memory to weave into the story?",
		},
	},
	StoryInnerChild: {
		Type: StoryInnerChild, AgeRange: [2]int{18, 99},
		Keywords:    []string{"inner child", "younger self", "healing", "childhood"},
		Description: "Reflective stories for adults reconnecting with their younger self",
		ConversationStarters: []string{
			"What did you love most when you were little?",
		},
	},
}

// StoryTypeOrder is the catalog's stable listing order, used wherever the
// catalog is rendered into a prompt or menu.
var StoryTypeOrder = []StoryType{
	StoryAdventure, StoryBedtime, StoryBirthday, StoryEducational,
	StoryFinancialLiteracy, StoryLanguageLearning, StoryMedicalBravery,
	StoryMentalHealth, StoryMilestones, StoryMusic, StoryNewBirth,
	StoryTechReadiness, StoryChildLoss, StoryInnerChild,
}

// ValidStoryType reports whether t is a known story type.
func ValidStoryType(t StoryType) bool {
	_, ok := StoryTypeCatalog[t]
	return ok
}

// MatchesKeywords reports whether the lowercased input contains any of the
// story type's keywords.
func (m StoryTypeMeta) MatchesKeywords(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range m.Keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// InAgeRange reports whether age falls within the story type's range.
func (m StoryTypeMeta) InAgeRange(age int) bool {
	return age >= m.AgeRange[0] && age <= m.AgeRange[1]
}
