package domain

// RequireIdentity rejects calls made without an authenticated principal.
func RequireIdentity(id Identity) error {
	if id.UserID == "" || (id.Role != RoleAdmin && id.Role != RoleUser) {
		return ErrUnauthorized
	}
	return nil
}

// RequireAdmin admits only administrators.
func RequireAdmin(id Identity) error {
	if err := RequireIdentity(id); err != nil {
		return err
	}
	if !id.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// CanAccessQuestionnaire reports whether id may read or write answers of a
// questionnaire belonging to project.
func CanAccessQuestionnaire(id Identity, project Project) bool {
	if RequireIdentity(id) != nil {
		return false
	}
	return id.IsAdmin() || id.UserID == project.ClientID
}

// CanAccessProject applies the same ownership rule to the project itself.
func CanAccessProject(id Identity, project Project) bool {
	return CanAccessQuestionnaire(id, project)
}

// CheckEditable rejects answer mutations outside DRAFT.
func CheckEditable(status QuestionnaireStatus) error {
	switch status {
	case StatusDraft:
		return nil
	case StatusSubmitted:
		return ErrAlreadySubmitted
	default:
		return ErrQuestionnaireLocked
	}
}

// AuthorizeTransition decides whether id may move a questionnaire of project
// from one status to another. validated is true when the move must pass the
// completeness check; admins are never validated on this path.
func AuthorizeTransition(id Identity, project Project, from, to QuestionnaireStatus) (validated bool, err error) {
	if !to.Valid() {
		return false, Invalid("unknown status %q", to)
	}
	if err := RequireIdentity(id); err != nil {
		return false, err
	}
	if id.IsAdmin() {
		return false, nil
	}
	if id.UserID != project.ClientID {
		return false, ErrForbidden
	}
	if from != StatusDraft {
		return false, CheckEditable(from)
	}
	if to != StatusSubmitted {
		return false, ErrForbidden
	}
	return true, nil
}

// MissingRequired counts required questions without an answer.
func MissingRequired(questions []QuestionRef, answers []Answer) int {
	answered := answeredSet(answers)
	missing := 0
	for _, q := range questions {
		if q.Required {
			if _, ok := answered[q.ID]; !ok {
				missing++
			}
		}
	}
	return missing
}

// Progress summarizes completion of one questionnaire.
type Progress struct {
	Status           QuestionnaireStatus `json:"status,omitempty"`
	Total            int                 `json:"totalQuestions"`
	Required         int                 `json:"requiredQuestions"`
	Answered         int                 `json:"answeredQuestions"`
	AnsweredRequired int                 `json:"answeredRequired"`
	PercentComplete  int                 `json:"percentComplete"`
	CanSubmit        bool                `json:"canSubmit"`
}

// ComputeProgress derives completion from the template's questions and the
// instance's answers. It is pure; callers stamp Status themselves.
func ComputeProgress(questions []QuestionRef, answers []Answer) Progress {
	answered := answeredSet(answers)
	p := Progress{
		Total:    len(questions),
		Answered: len(answered),
	}
	for _, q := range questions {
		if !q.Required {
			continue
		}
		p.Required++
		if _, ok := answered[q.ID]; ok {
			p.AnsweredRequired++
		}
	}
	p.PercentComplete = percent(p.Answered, p.Total)
	p.CanSubmit = p.AnsweredRequired == p.Required
	return p
}

// percent rounds part/total*100 half-up using integers only.
func percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return (part*200 + total) / (2 * total)
}

func answeredSet(answers []Answer) map[string]struct{} {
	set := make(map[string]struct{}, len(answers))
	for _, a := range answers {
		set[a.QuestionID] = struct{}{}
	}
	return set
}

// ValidateReorder requires ordered to be a permutation of current.
func ValidateReorder(current []QuestionRef, ordered []string) error {
	if len(ordered) != len(current) {
		return Invalid("reorder needs all %d question ids, got %d", len(current), len(ordered))
	}
	known := make(map[string]bool, len(current))
	for _, q := range current {
		known[q.ID] = false
	}
	for _, id := range ordered {
		seen, ok := known[id]
		if !ok {
			return Invalid("question %s does not belong to the template", id)
		}
		if seen {
			return Invalid("question %s listed twice", id)
		}
		known[id] = true
	}
	return nil
}
