package triage

import (
	"regexp"
	"strings"
)

// Verdict is the escalation decision for one agent turn.
type Verdict struct {
	Refer  bool
	Reason string
}

// Utterance is one prior turn of the session, stripped down to what the
// history-sensitive rules need.
type Utterance struct {
	FromPatient bool
	Text        string
}

// rule is one deterministic escalation trigger. Rules are ordered most severe
// first; the first match wins so multiple triggers report the worst one.
type rule struct {
	reason      string
	pattern     *regexp.Regexp
	patientSide bool // also matches patient utterances in the history
}

var rules = []rule{
	{
		reason:      "possible suicidal ideation",
		pattern:     regexp.MustCompile(`(?i)\b(suicid\w*|kill (myself|himself|herself|themselves)|end (my|their) life|self[- ]harm)\b`),
		patientSide: true,
	},
	{
		reason:      "chest pain reported",
		pattern:     regexp.MustCompile(`(?i)\b(chest (pain|pressure|tightness)|crushing pain)\b`),
		patientSide: true,
	},
	{
		reason:      "difficulty breathing reported",
		pattern:     regexp.MustCompile(`(?i)\b(difficulty breathing|can'?t breathe|cannot breathe|short(ness)? of breath|struggling to breathe)\b`),
		patientSide: true,
	},
	{
		reason:      "severe or worsening pain reported",
		pattern:     regexp.MustCompile(`(?i)\b((severe|unbearable|excruciating|worsening|getting worse) pain|pain (is )?(getting worse|unbearable))\b`),
		patientSide: true,
	},
	{
		reason:  "assistant cannot safely advise",
		pattern: regexp.MustCompile(`(?i)\b(cannot safely advise|can'?t safely advise|beyond what i can (safely )?(advise|assess)|unable to safely (advise|assess))\b`),
	},
	{
		reason:      "patient requested a human clinician",
		pattern:     regexp.MustCompile(`(?i)\b((speak|talk)\s+(to|with)\s+(a\s+)?(human|real|live|doctor|clinician|nurse)|see\s+a\s+(real\s+)?doctor|human\s+(doctor|clinician|being)|want\s+a\s+(real\s+)?doctor)\b`),
		patientSide: true,
	},
}

// repeatedPainPattern backs the history-sensitive rule: two or more patient
// complaints about pain across the session count as a worsening trend even
// when no single utterance says "worse".
var repeatedPainPattern = regexp.MustCompile(`(?i)\b(pain|hurts|hurting|aching)\b`)

const repeatedPainThreshold = 2

// Classifier decides whether an agent turn constitutes a referral-worthy
// event. The rules are intentionally high recall: a false positive costs a
// human review, a false negative costs a missed emergency.
type Classifier struct{}

func NewClassifier() *Classifier { return &Classifier{} }

// Evaluate inspects the proposed agent turn plus the session history and
// returns the most severe matching trigger.
func (c *Classifier) Evaluate(agentText string, history []Utterance) Verdict {
	for _, r := range rules {
		if r.pattern.MatchString(agentText) {
			return Verdict{Refer: true, Reason: r.reason}
		}
		if !r.patientSide {
			continue
		}
		for _, u := range history {
			if u.FromPatient && r.pattern.MatchString(u.Text) {
				return Verdict{Refer: true, Reason: r.reason}
			}
		}
	}

	painComplaints := 0
	for _, u := range history {
		if u.FromPatient && repeatedPainPattern.MatchString(u.Text) {
			painComplaints++
		}
	}
	if painComplaints >= repeatedPainThreshold {
		return Verdict{Refer: true, Reason: "repeated pain complaints across the session"}
	}

	return Verdict{}
}

// Merge combines the deterministic verdict with the model's self-reported
// referral signal. The model can escalate but never suppress a rule match.
func Merge(ruleVerdict Verdict, modelRefer bool, modelReason string) Verdict {
	if ruleVerdict.Refer {
		return ruleVerdict
	}
	if modelRefer {
		reason := strings.TrimSpace(modelReason)
		if reason == "" {
			reason = "the assistant flagged this turn for clinician review"
		}
		return Verdict{Refer: true, Reason: reason}
	}
	return Verdict{}
}
