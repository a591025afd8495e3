package safety

import (
	"context"
	"fmt"

	"github.com/storyweave/storyweave/pkg/models"
)

// immediateRiskMessage is the fixed response for immediate-risk disclosures.
// No model call is made on this path.
const immediateRiskMessage = "Thank you for telling me. What you're feeling matters, and you deserve help right now. " +
	"Please talk to a grown-up you trust, like a parent, a teacher, or another adult who cares about you, as soon as you can. " +
	"You are not alone, and you are not in trouble for sharing this."

// supportResources is the fixed hotline list appended to every crisis
// response.
var supportResources = []string{
	"988 Suicide & Crisis Lifeline: call or text 988",
	"Crisis Text Line: text HOME to 741741",
	"Childhelp National Child Abuse Hotline: 1-800-422-4453",
}

// crisisSystemPrompt constrains the model's crisis pivot: short, validating,
// points to a trusted adult, no probing, no secrecy promises.
const crisisSystemPrompt = "You are responding to a child who has shared something concerning during a storytelling session. " +
	"Respond in 100 words or fewer. Validate their feelings warmly. Suggest talking to a trusted adult. " +
	"Gently pivot toward comfort. Use age-appropriate language. " +
	"Never ask probing questions about what happened. Never promise to keep secrets. Never express alarm."

// TriggerCrisisIntervention produces the crisis pivot. Immediate risk gets
// the fixed scripted message; otherwise the model composes a constrained
// response, with the script as fallback on provider failure.
func (m *Moderator) TriggerCrisisIntervention(ctx context.Context, disclosure models.DisclosureType, immediateRisk bool, userAge int, userInput string) models.CrisisResponse {
	resp := models.CrisisResponse{
		SupportResources: supportResources,
		ReportFiled:      immediateRisk,
	}

	if immediateRisk {
		resp.Message = immediateRiskMessage
		return resp
	}

	prompt := fmt.Sprintf("Disclosure type: %s. Child's age: %d. The child said: %q", disclosure, userAge, userInput)
	message, err := m.llm.Complete(ctx, crisisSystemPrompt, prompt, 200)
	if err != nil || message == "" {
		m.logger.Warn("crisis response generation failed, using scripted message", "error", err)
		resp.Message = immediateRiskMessage
		return resp
	}
	resp.Message = message
	return resp
}
