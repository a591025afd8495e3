package models

// Severity grades a safety finding.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for max-combination.
var severityRank = map[Severity]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// MaxSeverity returns the more severe of a and b.
func MaxSeverity(a, b Severity) Severity {
	if severityRank[a] >= severityRank[b] {
		return a
	}
	return b
}

// DisclosureType names the family of a detected disclosure.
type DisclosureType string

const (
	DisclosureSelfHarm       DisclosureType = "self-harm"
	DisclosureSelfHarmIntent DisclosureType = "self-harm-intent"
	DisclosureAbuse          DisclosureType = "abuse"
	DisclosureDomestic       DisclosureType = "domestic-concern"
	DisclosureSecrecy        DisclosureType = "secrecy-signal"
	DisclosureSexual         DisclosureType = "sexual"
	DisclosureViolence       DisclosureType = "violence"
)

// SafetyCheckResult is the combined outcome of the keyword and moderation
// gates. Invariant: Safe iff Severity == none.
type SafetyCheckResult struct {
	Safe                       bool           `json:"safe"`
	Severity                   Severity       `json:"severity"`
	DisclosureType             DisclosureType `json:"disclosure_type,omitempty"`
	RequiresMandatoryReporting bool           `json:"requires_mandatory_reporting"`
	Flags                      []string       `json:"flags,omitempty"`
}

// CrisisResponse is the crisis-pivot payload returned instead of a story flow.
type CrisisResponse struct {
	Message          string   `json:"message"`
	SupportResources []string `json:"support_resources"`
	ReportFiled      bool     `json:"report_filed"`
}
