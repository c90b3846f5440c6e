package models

// StudyPlan is the structured output of the study action.
type StudyPlan struct {
	Title string      `json:"title" yaml:"title"`
	Goal  string      `json:"goal,omitempty" yaml:"goal,omitempty"`
	Steps []StudyStep `json:"steps" yaml:"steps"`
}

// StudyStep is one session of a study plan.
type StudyStep struct {
	Title      string   `json:"title" yaml:"title"`
	Duration   string   `json:"duration,omitempty" yaml:"duration,omitempty"`
	Objectives []string `json:"objectives,omitempty" yaml:"objectives,omitempty"`
	Resources  []string `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// Clone deep-copies the plan.
func (p StudyPlan) Clone() StudyPlan {
	out := p
	out.Steps = make([]StudyStep, len(p.Steps))
	for i, s := range p.Steps {
		s.Objectives = append([]string(nil), s.Objectives...)
		s.Resources = append([]string(nil), s.Resources...)
		out.Steps[i] = s
	}
	return out
}

// Project describes a scaffolded multi-file project.
type Project struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Files       []ProjectFile `json:"files"`
}

// ProjectFile is a single file of a scaffolded project.
type ProjectFile struct {
	Path     string `json:"path"`
	Purpose  string `json:"purpose,omitempty"`
	Language string `json:"language,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Clone deep-copies the project.
func (p Project) Clone() Project {
	out := p
	out.Files = append([]ProjectFile(nil), p.Files...)
	return out
}
