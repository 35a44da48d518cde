package memory

import (
	"context"
	"sync"
	"time"

	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
)

// Store is an in-memory app.Store for tests and demos. Transactions run
// against a private copy of the data that replaces the live copy only when
// the unit of work succeeds.
type Store struct {
	mu sync.RWMutex
	st *state
}

var _ app.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{st: newState()}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repo app.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := s.st.clone()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx
	return nil
}

// LoadQuestionSet serves as the QuestionSetLoader behind the question set caches.
func (s *Store) LoadQuestionSet(ctx context.Context, templateID string) (domain.QuestionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.st.templates[templateID]; !ok {
		return domain.QuestionSet{}, domain.ErrTemplateNotFound
	}
	qs, err := s.st.ListQuestions(ctx, templateID)
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return domain.QuestionSet{TemplateID: templateID, Questions: domain.Refs(qs)}, nil
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (s *Store) CreateTemplate(ctx context.Context, t domain.Template) error {
	return s.write(func(st *state) error { return st.CreateTemplate(ctx, t) })
}

func (s *Store) GetTemplate(ctx context.Context, id string) (t domain.Template, err error) {
	err = s.read(func(st *state) error { t, err = st.GetTemplate(ctx, id); return err })
	return t, err
}

func (s *Store) ListTemplates(ctx context.Context, f app.TemplateFilter) (rows []domain.TemplateSummary, err error) {
	err = s.read(func(st *state) error { rows, err = st.ListTemplates(ctx, f); return err })
	return rows, err
}

func (s *Store) UpdateTemplate(ctx context.Context, t domain.Template) error {
	return s.write(func(st *state) error { return st.UpdateTemplate(ctx, t) })
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.DeleteTemplate(ctx, id) })
}

func (s *Store) MaxTemplateVersion(ctx context.Context, namePrefix string, projectType domain.ProjectType) (v int, err error) {
	err = s.read(func(st *state) error { v, err = st.MaxTemplateVersion(ctx, namePrefix, projectType); return err })
	return v, err
}

func (s *Store) CreateQuestions(ctx context.Context, qs []domain.Question) error {
	return s.write(func(st *state) error { return st.CreateQuestions(ctx, qs) })
}

func (s *Store) GetQuestion(ctx context.Context, id string) (q domain.Question, err error) {
	err = s.read(func(st *state) error { q, err = st.GetQuestion(ctx, id); return err })
	return q, err
}

func (s *Store) ListQuestions(ctx context.Context, templateID string) (qs []domain.Question, err error) {
	err = s.read(func(st *state) error { qs, err = st.ListQuestions(ctx, templateID); return err })
	return qs, err
}

func (s *Store) UpdateQuestion(ctx context.Context, q domain.Question) error {
	return s.write(func(st *state) error { return st.UpdateQuestion(ctx, q) })
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.DeleteQuestion(ctx, id) })
}

func (s *Store) MaxQuestionOrder(ctx context.Context, templateID string) (n int, err error) {
	err = s.read(func(st *state) error { n, err = st.MaxQuestionOrder(ctx, templateID); return err })
	return n, err
}

func (s *Store) SetQuestionOrder(ctx context.Context, templateID, questionID string, order int) error {
	return s.write(func(st *state) error { return st.SetQuestionOrder(ctx, templateID, questionID, order) })
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project) error {
	return s.write(func(st *state) error { return st.CreateProject(ctx, p) })
}

func (s *Store) GetProject(ctx context.Context, id string) (p domain.Project, err error) {
	err = s.read(func(st *state) error { p, err = st.GetProject(ctx, id); return err })
	return p, err
}

func (s *Store) ListProjects(ctx context.Context, f app.ProjectFilter) (rows []domain.Project, err error) {
	err = s.read(func(st *state) error { rows, err = st.ListProjects(ctx, f); return err })
	return rows, err
}

func (s *Store) UpdateProject(ctx context.Context, p domain.Project) error {
	return s.write(func(st *state) error { return st.UpdateProject(ctx, p) })
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.DeleteProject(ctx, id) })
}

func (s *Store) CreateQuestionnaire(ctx context.Context, pq domain.ProjectQuestionnaire) error {
	return s.write(func(st *state) error { return st.CreateQuestionnaire(ctx, pq) })
}

func (s *Store) GetQuestionnaire(ctx context.Context, id string) (pq domain.ProjectQuestionnaire, err error) {
	err = s.read(func(st *state) error { pq, err = st.GetQuestionnaire(ctx, id); return err })
	return pq, err
}

func (s *Store) LockQuestionnaire(ctx context.Context, id string) (domain.ProjectQuestionnaire, error) {
	return s.GetQuestionnaire(ctx, id)
}

func (s *Store) ListQuestionnaires(ctx context.Context, f app.QuestionnaireFilter) (rows []domain.QuestionnaireSummary, err error) {
	err = s.read(func(st *state) error { rows, err = st.ListQuestionnaires(ctx, f); return err })
	return rows, err
}

func (s *Store) CountQuestionnaires(ctx context.Context, f app.QuestionnaireFilter) (n int, err error) {
	err = s.read(func(st *state) error { n, err = st.CountQuestionnaires(ctx, f); return err })
	return n, err
}

func (s *Store) SetQuestionnaireStatus(ctx context.Context, id string, status domain.QuestionnaireStatus, submittedAt *time.Time) error {
	return s.write(func(st *state) error { return st.SetQuestionnaireStatus(ctx, id, status, submittedAt) })
}

func (s *Store) DeleteQuestionnaire(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.DeleteQuestionnaire(ctx, id) })
}

func (s *Store) UpsertAnswer(ctx context.Context, a *domain.Answer) error {
	return s.write(func(st *state) error { return st.UpsertAnswer(ctx, a) })
}

func (s *Store) ListAnswers(ctx context.Context, questionnaireID string) (out []domain.Answer, err error) {
	err = s.read(func(st *state) error { out, err = st.ListAnswers(ctx, questionnaireID); return err })
	return out, err
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	return s.write(func(st *state) error { return st.CreateUser(ctx, u) })
}

func (s *Store) GetUser(ctx context.Context, id string) (u domain.User, err error) {
	err = s.read(func(st *state) error { u, err = st.GetUser(ctx, id); return err })
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (u domain.User, err error) {
	err = s.read(func(st *state) error { u, err = st.FindUserByEmail(ctx, email); return err })
	return u, err
}

func (s *Store) ListUsers(ctx context.Context, f app.UserFilter) (rows []domain.User, err error) {
	err = s.read(func(st *state) error { rows, err = st.ListUsers(ctx, f); return err })
	return rows, err
}

func (s *Store) CountUsers(ctx context.Context, f app.UserFilter) (n int, err error) {
	err = s.read(func(st *state) error { n, err = st.CountUsers(ctx, f); return err })
	return n, err
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	return s.write(func(st *state) error { return st.DeleteUser(ctx, id) })
}
