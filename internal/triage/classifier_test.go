package triage

import (
	"strings"
	"testing"
)

func TestEvaluateAgentTriggers(t *testing.T) {
	c := NewClassifier()
	cases := []struct {
		name       string
		agentText  string
		wantRefer  bool
		wantReason string
	}{
		{
			name:       "chest pain",
			agentText:  "Chest pain like this needs urgent attention.",
			wantRefer:  true,
			wantReason: "chest pain",
		},
		{
			name:       "breathing difficulty",
			agentText:  "If you can't breathe properly, call emergency services now.",
			wantRefer:  true,
			wantReason: "breathing",
		},
		{
			name:       "severe pain",
			agentText:  "Severe pain after surgery should be checked by your team.",
			wantRefer:  true,
			wantReason: "pain",
		},
		{
			name:       "cannot advise",
			agentText:  "I cannot safely advise on this combination of medications.",
			wantRefer:  true,
			wantReason: "cannot safely advise",
		},
		{
			name:      "benign",
			agentText: "How long have you had this cough?",
			wantRefer: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Evaluate(tc.agentText, nil)
			if got.Refer != tc.wantRefer {
				t.Fatalf("Refer = %v, want %v (reason=%q)", got.Refer, tc.wantRefer, got.Reason)
			}
			if tc.wantRefer && !strings.Contains(got.Reason, tc.wantReason) {
				t.Fatalf("Reason = %q, want it to mention %q", got.Reason, tc.wantReason)
			}
			if !tc.wantRefer && got.Reason != "" {
				t.Fatalf("Reason = %q, want empty", got.Reason)
			}
		})
	}
}

func TestEvaluatePatientHistoryTriggers(t *testing.T) {
	c := NewClassifier()
	history := []Utterance{
		{FromPatient: true, Text: "I have crushing chest pain"},
	}
	got := c.Evaluate("Let me ask a few more questions.", history)
	if !got.Refer {
		t.Fatalf("expected referral for patient-reported chest pain")
	}
	if !strings.Contains(got.Reason, "chest pain") {
		t.Fatalf("Reason = %q, want chest pain", got.Reason)
	}
}

func TestEvaluateReportsMostSevereTrigger(t *testing.T) {
	c := NewClassifier()
	// Both suicidal ideation and chest pain present: the more severe wins.
	history := []Utterance{
		{FromPatient: true, Text: "My chest pain is back and I've been thinking about suicide"},
	}
	got := c.Evaluate("I'm concerned about what you've shared.", history)
	if !got.Refer {
		t.Fatalf("expected referral")
	}
	if !strings.Contains(got.Reason, "suicidal") {
		t.Fatalf("Reason = %q, want suicidal ideation to take precedence", got.Reason)
	}
}

func TestEvaluateHumanRequest(t *testing.T) {
	c := NewClassifier()
	history := []Utterance{
		{FromPatient: true, Text: "I would rather speak to a doctor about this"},
	}
	got := c.Evaluate("Of course, I understand.", history)
	if !got.Refer {
		t.Fatalf("expected referral for explicit human request")
	}
}

func TestEvaluateRepeatedPainComplaints(t *testing.T) {
	c := NewClassifier()
	history := []Utterance{
		{FromPatient: true, Text: "my knee hurts a bit"},
		{FromPatient: false, Text: "When did it start?"},
		{FromPatient: true, Text: "the aching kept me up all night"},
	}
	got := c.Evaluate("Thanks for the details.", history)
	if !got.Refer {
		t.Fatalf("expected referral after repeated pain complaints")
	}
	if !strings.Contains(got.Reason, "repeated pain") {
		t.Fatalf("Reason = %q, want repeated pain", got.Reason)
	}
}

func TestMergeModelSignalCanEscalate(t *testing.T) {
	got := Merge(Verdict{}, true, "patient described stroke symptoms")
	if !got.Refer {
		t.Fatalf("model signal should escalate")
	}
	if got.Reason != "patient described stroke symptoms" {
		t.Fatalf("Reason = %q", got.Reason)
	}

	got = Merge(Verdict{}, true, "  ")
	if !got.Refer || got.Reason == "" {
		t.Fatalf("model escalation without reason should get a default reason, got %+v", got)
	}
}

func TestMergeModelSignalCannotSuppressRules(t *testing.T) {
	ruleVerdict := Verdict{Refer: true, Reason: "chest pain reported"}
	got := Merge(ruleVerdict, false, "")
	if !got.Refer || got.Reason != "chest pain reported" {
		t.Fatalf("rule verdict must survive model non-referral, got %+v", got)
	}
}
