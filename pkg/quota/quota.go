// Package quota enforces tier story caps and the under-13 parental-consent
// gate.
package quota

import (
	"fmt"
	"math"

	"github.com/storyweave/storyweave/pkg/models"
)

// unlimited marks tiers with no monthly cap.
const unlimited = -1

// tierCaps maps subscription tiers to monthly story caps.
var tierCaps = map[models.SubscriptionTier]int{
	models.TierFree:         1,
	models.TierAlexaFree:    2,
	models.TierAlexaStarter: 10,
	models.TierIndividual:   30,
	models.TierFamily:       20,
	models.TierPremium:      unlimited,
}

// welcomeBonus is the extra first-month allowance for first-time creators.
var welcomeBonus = map[models.SubscriptionTier]int{
	models.TierFree:      3,
	models.TierAlexaFree: 5,
}

// LimitResult is the quota verdict for a story-mutating turn.
type LimitResult struct {
	LimitReached    bool   `json:"limit_reached"`
	Remaining       int    `json:"remaining"`
	UpgradeRequired bool   `json:"upgrade_required"`
	SoftCapWarning  bool   `json:"soft_cap_warning"`
	Message         string `json:"message,omitempty"`
}

// CheckStoryLimit evaluates the monthly cap for a user. First-time creators
// get the tier's welcome bonus folded into the effective cap. The soft-cap
// warning fires when remaining stories drop to 20% of the cap or below.
func CheckStoryLimit(user *models.User) LimitResult {
	cap, ok := tierCaps[user.Tier]
	if !ok {
		cap = tierCaps[models.TierFree]
	}
	if cap == unlimited {
		return LimitResult{Remaining: math.MaxInt32}
	}

	if user.FirstTimeCreator {
		cap += welcomeBonus[user.Tier]
	}

	remaining := cap - user.StoriesThisMonth
	if remaining < 0 {
		remaining = 0
	}

	result := LimitResult{Remaining: remaining}
	if remaining == 0 {
		result.LimitReached = true
		result.UpgradeRequired = true
		result.Message = "You've made so many wonderful stories this month! Ask a grown-up about making more."
		return result
	}

	softCap := int(math.Ceil(float64(cap) * 0.2))
	if remaining <= softCap {
		result.SoftCapWarning = true
		result.Message = fmt.Sprintf("Just so you know, you have %d more %s left this month.",
			remaining, pluralStory(remaining))
	}
	return result
}

func pluralStory(n int) string {
	if n == 1 {
		return "story"
	}
	return "stories"
}
