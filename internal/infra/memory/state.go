package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
)

type answerKey struct {
	questionnaireID string
	questionID      string
}

// state holds every table of the in-memory store. It implements
// app.Repository without locking; Store serializes access to it.
type state struct {
	templates      map[string]domain.Template
	questions      map[string]domain.Question
	projects       map[string]domain.Project
	questionnaires map[string]domain.ProjectQuestionnaire
	answers        map[answerKey]domain.Answer
	users          map[string]domain.User
}

var _ app.Repository = (*state)(nil)

func newState() *state {
	return &state{
		templates:      make(map[string]domain.Template),
		questions:      make(map[string]domain.Question),
		projects:       make(map[string]domain.Project),
		questionnaires: make(map[string]domain.ProjectQuestionnaire),
		answers:        make(map[answerKey]domain.Answer),
		users:          make(map[string]domain.User),
	}
}

// clone copies the maps; values are never mutated in place so a shallow copy suffices.
func (s *state) clone() *state {
	c := newState()
	for k, v := range s.templates {
		c.templates[k] = v
	}
	for k, v := range s.questions {
		c.questions[k] = v
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.questionnaires {
		c.questionnaires[k] = v
	}
	for k, v := range s.answers {
		c.answers[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	return c
}

func (s *state) CreateTemplate(_ context.Context, t domain.Template) error {
	t.Questions = nil
	s.templates[t.ID] = t
	return nil
}

func (s *state) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	t, ok := s.templates[id]
	if !ok {
		return domain.Template{}, domain.ErrTemplateNotFound
	}
	qs, _ := s.ListQuestions(ctx, id)
	t.Questions = qs
	return t, nil
}

func (s *state) ListTemplates(_ context.Context, f app.TemplateFilter) ([]domain.TemplateSummary, error) {
	rows := make([]domain.TemplateSummary, 0, len(s.templates))
	for _, t := range s.templates {
		if f.ActiveOnly && !t.IsActive {
			continue
		}
		if f.ProjectType != "" && t.ProjectType != f.ProjectType {
			continue
		}
		rows = append(rows, domain.TemplateSummary{Template: t})
	}
	sort.Slice(rows, func(i, j int) bool {
		return newerFirst(rows[i].CreatedAt, rows[i].ID, rows[j].CreatedAt, rows[j].ID)
	})
	rows = afterCursor(rows, f.Cursor, f.Limit, func(t domain.TemplateSummary) string { return t.ID })
	for i := range rows {
		for _, q := range s.questions {
			if q.TemplateID == rows[i].ID {
				rows[i].QuestionCount++
			}
		}
		for _, pq := range s.questionnaires {
			if pq.TemplateID == rows[i].ID {
				rows[i].UsageCount++
			}
		}
	}
	return rows, nil
}

func (s *state) UpdateTemplate(_ context.Context, t domain.Template) error {
	if _, ok := s.templates[t.ID]; !ok {
		return domain.ErrTemplateNotFound
	}
	t.Questions = nil
	s.templates[t.ID] = t
	return nil
}

func (s *state) DeleteTemplate(ctx context.Context, id string) error {
	if _, ok := s.templates[id]; !ok {
		return domain.ErrTemplateNotFound
	}
	for qid, q := range s.questions {
		if q.TemplateID == id {
			_ = s.DeleteQuestion(ctx, qid)
		}
	}
	for pqid, pq := range s.questionnaires {
		if pq.TemplateID == id {
			_ = s.DeleteQuestionnaire(ctx, pqid)
		}
	}
	delete(s.templates, id)
	return nil
}

func (s *state) MaxTemplateVersion(_ context.Context, namePrefix string, projectType domain.ProjectType) (int, error) {
	max := 0
	for _, t := range s.templates {
		if t.ProjectType == projectType && strings.HasPrefix(t.Name, namePrefix) && t.Version > max {
			max = t.Version
		}
	}
	return max, nil
}

func (s *state) CreateQuestions(_ context.Context, qs []domain.Question) error {
	for _, q := range qs {
		if _, ok := s.templates[q.TemplateID]; !ok {
			return domain.ErrTemplateNotFound
		}
	}
	for _, q := range qs {
		s.questions[q.ID] = q
	}
	return nil
}

func (s *state) GetQuestion(_ context.Context, id string) (domain.Question, error) {
	q, ok := s.questions[id]
	if !ok {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return q, nil
}

func (s *state) ListQuestions(_ context.Context, templateID string) ([]domain.Question, error) {
	qs := make([]domain.Question, 0)
	for _, q := range s.questions {
		if q.TemplateID == templateID {
			qs = append(qs, q)
		}
	}
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Order != qs[j].Order {
			return qs[i].Order < qs[j].Order
		}
		return qs[i].ID < qs[j].ID
	})
	return qs, nil
}

func (s *state) UpdateQuestion(_ context.Context, q domain.Question) error {
	if _, ok := s.questions[q.ID]; !ok {
		return domain.ErrQuestionNotFound
	}
	s.questions[q.ID] = q
	return nil
}

func (s *state) DeleteQuestion(_ context.Context, id string) error {
	if _, ok := s.questions[id]; !ok {
		return domain.ErrQuestionNotFound
	}
	for k := range s.answers {
		if k.questionID == id {
			delete(s.answers, k)
		}
	}
	delete(s.questions, id)
	return nil
}

func (s *state) MaxQuestionOrder(_ context.Context, templateID string) (int, error) {
	max := 0
	for _, q := range s.questions {
		if q.TemplateID == templateID && q.Order > max {
			max = q.Order
		}
	}
	return max, nil
}

func (s *state) SetQuestionOrder(_ context.Context, templateID, questionID string, order int) error {
	q, ok := s.questions[questionID]
	if !ok || q.TemplateID != templateID {
		return domain.ErrQuestionNotFound
	}
	q.Order = order
	s.questions[questionID] = q
	return nil
}

func (s *state) CreateProject(_ context.Context, p domain.Project) error {
	if _, ok := s.users[p.ClientID]; !ok {
		return domain.ErrUserNotFound
	}
	s.projects[p.ID] = p
	return nil
}

func (s *state) GetProject(_ context.Context, id string) (domain.Project, error) {
	p, ok := s.projects[id]
	if !ok {
		return domain.Project{}, domain.ErrProjectNotFound
	}
	return p, nil
}

func (s *state) ListProjects(_ context.Context, f app.ProjectFilter) ([]domain.Project, error) {
	rows := make([]domain.Project, 0)
	for _, p := range s.projects {
		if f.ClientID != "" && p.ClientID != f.ClientID {
			continue
		}
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.Type != "" && p.Type != f.Type {
			continue
		}
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		return newerFirst(rows[i].CreatedAt, rows[i].ID, rows[j].CreatedAt, rows[j].ID)
	})
	return afterCursor(rows, f.Cursor, f.Limit, func(p domain.Project) string { return p.ID }), nil
}

func (s *state) UpdateProject(_ context.Context, p domain.Project) error {
	if _, ok := s.projects[p.ID]; !ok {
		return domain.ErrProjectNotFound
	}
	s.projects[p.ID] = p
	return nil
}

func (s *state) DeleteProject(ctx context.Context, id string) error {
	if _, ok := s.projects[id]; !ok {
		return domain.ErrProjectNotFound
	}
	for pqid, pq := range s.questionnaires {
		if pq.ProjectID == id {
			_ = s.DeleteQuestionnaire(ctx, pqid)
		}
	}
	delete(s.projects, id)
	return nil
}

func (s *state) CreateQuestionnaire(_ context.Context, pq domain.ProjectQuestionnaire) error {
	if _, ok := s.projects[pq.ProjectID]; !ok {
		return domain.ErrProjectNotFound
	}
	if _, ok := s.templates[pq.TemplateID]; !ok {
		return domain.ErrTemplateNotFound
	}
	for _, existing := range s.questionnaires {
		if existing.ProjectID == pq.ProjectID && existing.TemplateID == pq.TemplateID {
			return domain.ErrDuplicateAssignment
		}
	}
	s.questionnaires[pq.ID] = pq
	return nil
}

func (s *state) GetQuestionnaire(_ context.Context, id string) (domain.ProjectQuestionnaire, error) {
	pq, ok := s.questionnaires[id]
	if !ok {
		return domain.ProjectQuestionnaire{}, domain.ErrQuestionnaireNotFound
	}
	return pq, nil
}

// LockQuestionnaire is a plain read: the Store mutex already serializes transactions.
func (s *state) LockQuestionnaire(ctx context.Context, id string) (domain.ProjectQuestionnaire, error) {
	return s.GetQuestionnaire(ctx, id)
}

func (s *state) ListQuestionnaires(_ context.Context, f app.QuestionnaireFilter) ([]domain.QuestionnaireSummary, error) {
	rows := make([]domain.QuestionnaireSummary, 0)
	for _, pq := range s.questionnaires {
		if !s.matches(pq, f) {
			continue
		}
		project := s.projects[pq.ProjectID]
		row := domain.QuestionnaireSummary{
			ProjectQuestionnaire: pq,
			ProjectName:          project.Name,
			ProjectType:          project.Type,
			TemplateName:         s.templates[pq.TemplateID].Name,
		}
		for _, q := range s.questions {
			if q.TemplateID == pq.TemplateID {
				row.TotalQuestions++
			}
		}
		for k := range s.answers {
			if k.questionnaireID == pq.ID {
				row.AnswerCount++
			}
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return newerFirst(rows[i].CreatedAt, rows[i].ID, rows[j].CreatedAt, rows[j].ID)
	})
	return rows, nil
}

func (s *state) CountQuestionnaires(_ context.Context, f app.QuestionnaireFilter) (int, error) {
	n := 0
	for _, pq := range s.questionnaires {
		if s.matches(pq, f) {
			n++
		}
	}
	return n, nil
}

func (s *state) matches(pq domain.ProjectQuestionnaire, f app.QuestionnaireFilter) bool {
	if f.ProjectID != "" && pq.ProjectID != f.ProjectID {
		return false
	}
	if f.TemplateID != "" && pq.TemplateID != f.TemplateID {
		return false
	}
	if f.Status != "" && pq.Status != f.Status {
		return false
	}
	if f.ClientID != "" && s.projects[pq.ProjectID].ClientID != f.ClientID {
		return false
	}
	return true
}

func (s *state) SetQuestionnaireStatus(_ context.Context, id string, status domain.QuestionnaireStatus, submittedAt *time.Time) error {
	pq, ok := s.questionnaires[id]
	if !ok {
		return domain.ErrQuestionnaireNotFound
	}
	pq.Status = status
	pq.SubmittedAt = submittedAt
	s.questionnaires[id] = pq
	return nil
}

func (s *state) DeleteQuestionnaire(_ context.Context, id string) error {
	if _, ok := s.questionnaires[id]; !ok {
		return domain.ErrQuestionnaireNotFound
	}
	for k := range s.answers {
		if k.questionnaireID == id {
			delete(s.answers, k)
		}
	}
	delete(s.questionnaires, id)
	return nil
}

func (s *state) UpsertAnswer(_ context.Context, a *domain.Answer) error {
	if _, ok := s.questionnaires[a.QuestionnaireID]; !ok {
		return domain.ErrQuestionnaireNotFound
	}
	if _, ok := s.questions[a.QuestionID]; !ok {
		return domain.ErrQuestionNotFound
	}
	key := answerKey{questionnaireID: a.QuestionnaireID, questionID: a.QuestionID}
	if existing, ok := s.answers[key]; ok {
		a.ID = existing.ID
	} else if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.answers[key] = *a
	return nil
}

func (s *state) ListAnswers(_ context.Context, questionnaireID string) ([]domain.Answer, error) {
	out := make([]domain.Answer, 0)
	for k, a := range s.answers {
		if k.questionnaireID == questionnaireID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := s.questions[out[i].QuestionID].Order, s.questions[out[j].QuestionID].Order
		if oi != oj {
			return oi < oj
		}
		return out[i].QuestionID < out[j].QuestionID
	})
	return out, nil
}

func (s *state) CreateUser(_ context.Context, u domain.User) error {
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return domain.ErrEmailTaken
		}
	}
	s.users[u.ID] = u
	return nil
}

func (s *state) GetUser(_ context.Context, id string) (domain.User, error) {
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *state) FindUserByEmail(_ context.Context, email string) (domain.User, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, domain.ErrUserNotFound
}

func (s *state) ListUsers(_ context.Context, f app.UserFilter) ([]domain.User, error) {
	query := strings.ToLower(f.Query)
	rows := make([]domain.User, 0)
	for _, u := range s.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(u.Name), query) && !strings.Contains(strings.ToLower(u.Email), query) {
			continue
		}
		rows = append(rows, u)
	}
	sort.Slice(rows, func(i, j int) bool {
		return newerFirst(rows[i].CreatedAt, rows[i].ID, rows[j].CreatedAt, rows[j].ID)
	})
	if f.Limit > 0 && len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (s *state) CountUsers(ctx context.Context, f app.UserFilter) (int, error) {
	f.Limit = 0
	rows, err := s.ListUsers(ctx, f)
	return len(rows), err
}

func (s *state) DeleteUser(ctx context.Context, id string) error {
	if _, ok := s.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	for pid, p := range s.projects {
		if p.ClientID == id {
			_ = s.DeleteProject(ctx, pid)
		}
	}
	delete(s.users, id)
	return nil
}

func newerFirst(ti time.Time, idi string, tj time.Time, idj string) bool {
	if !ti.Equal(tj) {
		return ti.After(tj)
	}
	return idi > idj
}

// afterCursor drops rows up to and including the cursor row and applies limit.
// An unknown cursor yields no rows.
func afterCursor[T any](rows []T, cursor string, limit int, idOf func(T) string) []T {
	if cursor != "" {
		found := false
		for i, r := range rows {
			if idOf(r) == cursor {
				rows = rows[i+1:]
				found = true
				break
			}
		}
		if !found {
			return []T{}
		}
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}
