package app

import (
	"context"
	"time"

	"horizon-portal/internal/domain"
)

// TemplateFilter narrows template listings. Limit 0 means unbounded.
type TemplateFilter struct {
	ActiveOnly  bool
	ProjectType domain.ProjectType
	Cursor      string
	Limit       int
}

type ProjectFilter struct {
	ClientID string
	Status   domain.ProjectStatus
	Type     domain.ProjectType
	Cursor   string
	Limit    int
}

type QuestionnaireFilter struct {
	ProjectID  string
	TemplateID string
	ClientID   string
	Status     domain.QuestionnaireStatus
}

type UserFilter struct {
	Role  domain.Role
	Query string
	Limit int
}

// TemplateRepository persists templates. GetTemplate returns questions ordered by Order.
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t domain.Template) error
	GetTemplate(ctx context.Context, id string) (domain.Template, error)
	ListTemplates(ctx context.Context, f TemplateFilter) ([]domain.TemplateSummary, error)
	UpdateTemplate(ctx context.Context, t domain.Template) error
	DeleteTemplate(ctx context.Context, id string) error
	// MaxTemplateVersion returns the highest version among templates whose
	// name starts with namePrefix and that share projectType, or 0.
	MaxTemplateVersion(ctx context.Context, namePrefix string, projectType domain.ProjectType) (int, error)
}

type QuestionRepository interface {
	CreateQuestions(ctx context.Context, qs []domain.Question) error
	GetQuestion(ctx context.Context, id string) (domain.Question, error)
	ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error)
	UpdateQuestion(ctx context.Context, q domain.Question) error
	DeleteQuestion(ctx context.Context, id string) error
	MaxQuestionOrder(ctx context.Context, templateID string) (int, error)
	SetQuestionOrder(ctx context.Context, templateID, questionID string, order int) error
}

type ProjectRepository interface {
	CreateProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListProjects(ctx context.Context, f ProjectFilter) ([]domain.Project, error)
	UpdateProject(ctx context.Context, p domain.Project) error
	DeleteProject(ctx context.Context, id string) error
}

// QuestionnaireRepository persists project questionnaires.
// CreateQuestionnaire fails with domain.ErrDuplicateAssignment when the
// (project, template) pair already exists.
type QuestionnaireRepository interface {
	CreateQuestionnaire(ctx context.Context, pq domain.ProjectQuestionnaire) error
	GetQuestionnaire(ctx context.Context, id string) (domain.ProjectQuestionnaire, error)
	// LockQuestionnaire reads the row and holds it until the surrounding
	// transaction ends.
	LockQuestionnaire(ctx context.Context, id string) (domain.ProjectQuestionnaire, error)
	ListQuestionnaires(ctx context.Context, f QuestionnaireFilter) ([]domain.QuestionnaireSummary, error)
	CountQuestionnaires(ctx context.Context, f QuestionnaireFilter) (int, error)
	SetQuestionnaireStatus(ctx context.Context, id string, status domain.QuestionnaireStatus, submittedAt *time.Time) error
	DeleteQuestionnaire(ctx context.Context, id string) error
}

// AnswerRepository persists answers keyed by (questionnaire, question).
type AnswerRepository interface {
	// UpsertAnswer inserts or overwrites the value for a.QuestionnaireID and
	// a.QuestionID; a.ID is set to the id of the surviving row.
	UpsertAnswer(ctx context.Context, a *domain.Answer) error
	// ListAnswers returns answers ordered by their question's order.
	ListAnswers(ctx context.Context, questionnaireID string) ([]domain.Answer, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (domain.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]domain.User, error)
	CountUsers(ctx context.Context, f UserFilter) (int, error)
	DeleteUser(ctx context.Context, id string) error
}

// Repository is the full persistence surface.
type Repository interface {
	TemplateRepository
	QuestionRepository
	ProjectRepository
	QuestionnaireRepository
	AnswerRepository
	UserRepository
}

// Store is a Repository that can run a unit of work atomically.
type Store interface {
	Repository
	RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}

// QuestionSetRepository serves completion-relevant question sets (from cache/backing store).
type QuestionSetRepository interface {
	GetQuestionSet(ctx context.Context, templateID string) (domain.QuestionSet, error)
	Invalidate(ctx context.Context, templateID string) error
}

// SessionStore tracks live login sessions.
type SessionStore interface {
	Create(ctx context.Context, sessionID, userID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// TokenSigner issues and verifies bearer tokens bound to a session.
type TokenSigner interface {
	Issue(userID string, role domain.Role, sessionID string, ttl time.Duration) (string, time.Time, error)
	Parse(token string) (domain.Identity, string, error)
}

// Recorder receives lifecycle events for instrumentation.
type Recorder interface {
	AnswersSaved(n int)
	Transition(from, to domain.QuestionnaireStatus)
	Rejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) AnswersSaved(int) {}
func (nopRecorder) Transition(domain.QuestionnaireStatus, domain.QuestionnaireStatus) {}
func (nopRecorder) Rejected(string) {}
