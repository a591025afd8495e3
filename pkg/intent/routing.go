package intent

import "github.com/storyweave/storyweave/pkg/models"

// agentFor maps each intent to its downstream agent. Unlisted intents route
// to the content agent.
var agentFor = map[models.IntentType]models.TargetAgent{
	models.IntentAccountLinking: models.AgentAuth,

	models.IntentCreateStory:      models.AgentContent,
	models.IntentContinueStory:    models.AgentContent,
	models.IntentEditStory:        models.AgentContent,
	models.IntentFinishStory:      models.AgentContent,
	models.IntentCreateCharacter:  models.AgentContent,
	models.IntentEditCharacter:    models.AgentContent,
	models.IntentConfirmCharacter: models.AgentContent,

	models.IntentViewLibrary: models.AgentLibrary,
	models.IntentShareStory:  models.AgentLibrary,
	models.IntentDeleteStory: models.AgentLibrary,

	models.IntentEmotionCheckin: models.AgentEmotion,
	models.IntentMoodUpdate:     models.AgentEmotion,

	models.IntentSubscriptionManagement: models.AgentCommerce,

	models.IntentConnectHue:    models.AgentSmartHome,
	models.IntentHueStatus:     models.AgentSmartHome,
	models.IntentControlLights: models.AgentSmartHome,

	models.IntentStartConversation:    models.AgentConversation,
	models.IntentContinueConversation: models.AgentConversation,
	models.IntentEndConversation:      models.AgentConversation,
	models.IntentResumeConversation:   models.AgentConversation,
}

// TargetAgent resolves the routing target for an intent type.
func TargetAgent(t models.IntentType) models.TargetAgent {
	if agent, ok := agentFor[t]; ok {
		return agent
	}
	return models.AgentContent
}

// authRequired is the allowlist of intents that need an authenticated user:
// everything story-mutating, the library surface, emotion check-ins, and
// subscription management.
var authRequired = map[models.IntentType]bool{
	models.IntentCreateStory:      true,
	models.IntentContinueStory:    true,
	models.IntentEditStory:        true,
	models.IntentFinishStory:      true,
	models.IntentCreateCharacter:  true,
	models.IntentEditCharacter:    true,
	models.IntentConfirmCharacter: true,

	models.IntentViewLibrary: true,
	models.IntentShareStory:  true,
	models.IntentDeleteStory: true,

	models.IntentEmotionCheckin:         true,
	models.IntentSubscriptionManagement: true,
}

// RequiresAuth reports whether an intent type needs an authenticated user.
func RequiresAuth(t models.IntentType) bool { return authRequired[t] }
