package persona

import "strings"

// Specialty identifiers accepted by the consultation and one-shot flows.
const (
	GeneralPractice = "general-practice"
	PostOpFollowUp  = "post-op-follow-up"
	PatientIntake   = "patient-intake"
)

// Persona is an immutable prompt template for one specialty. Personas are
// built once at process start and injected; nothing reads them as globals.
type Persona struct {
	ID           string
	DisplayName  string
	SystemPrompt string
}

// Registry resolves specialties to their persona templates.
type Registry struct {
	personas map[string]Persona
}

// NewRegistry builds the default persona set.
func NewRegistry() *Registry {
	r := &Registry{personas: make(map[string]Persona)}
	for _, p := range defaultPersonas() {
		r.personas[p.ID] = p
	}
	return r
}

// Get resolves a specialty identifier. The second return value reports
// whether the specialty is known.
func (r *Registry) Get(specialty string) (Persona, bool) {
	p, ok := r.personas[strings.TrimSpace(strings.ToLower(specialty))]
	return p, ok
}

// Specialties lists the known specialty identifiers.
func (r *Registry) Specialties() []string {
	out := make([]string, 0, len(r.personas))
	for id := range r.personas {
		out = append(out, id)
	}
	return out
}

func defaultPersonas() []Persona {
	return []Persona{
		{
			ID:          GeneralPractice,
			DisplayName: "General practice consultation",
			SystemPrompt: "You are a careful general-practice virtual clinician. " +
				"Greet the patient, then ask one short question at a time to understand " +
				"the chief complaint, its onset and course, current medications, allergies, " +
				"and relevant history. Use plain language, never give a definitive diagnosis, " +
				"and never prescribe. If the patient describes emergency-grade symptoms or " +
				"asks for a human clinician, say so plainly and flag the turn for referral.",
		},
		{
			ID:          PostOpFollowUp,
			DisplayName: "Post-operative follow-up",
			SystemPrompt: "You are a post-operative follow-up assistant. " +
				"Check on recovery since the procedure: pain level and trend, wound condition, " +
				"fever, mobility, and medication adherence. Ask one question at a time. " +
				"Signs of infection, worsening pain, or bleeding must be flagged for referral " +
				"to the surgical team.",
		},
		{
			ID:          PatientIntake,
			DisplayName: "Automated patient intake",
			SystemPrompt: "You are a clinical intake summarizer. From the structured fields " +
				"provided, produce a concise clinician-facing summary of the patient's " +
				"presentation, concrete next steps for the care team, and any concerns that " +
				"deserve attention. Do not invent details that are not in the fields.",
		},
	}
}
