package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"horizon-portal/internal/domain"
)

const defaultPageSize = 20

// TemplateService manages questionnaire templates and their questions. Every
// mutation is admin only.
type TemplateService struct {
	store        Store
	questionSets QuestionSetRepository
	now          func() time.Time
	newID        func() string
}

func NewTemplateService(store Store, questionSets QuestionSetRepository) *TemplateService {
	return &TemplateService{
		store:        store,
		questionSets: questionSets,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

type TemplateInput struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	ProjectType domain.ProjectType `json:"projectType"`
}

// TemplatePatch updates only the non-nil fields.
type TemplatePatch struct {
	Name        *string             `json:"name"`
	Description *string             `json:"description"`
	ProjectType *domain.ProjectType `json:"projectType"`
	IsActive    *bool               `json:"isActive"`
}

type ListTemplatesOptions struct {
	Cursor          string
	Take            int
	IncludeInactive bool
	ProjectType     domain.ProjectType
}

type QuestionInput struct {
	Label    string              `json:"label"`
	Type     domain.QuestionType `json:"type"`
	Required bool                `json:"required"`
	Order    *int                `json:"order"`
	Options  json.RawMessage     `json:"options"`
}

type QuestionPatch struct {
	Label    *string              `json:"label"`
	Type     *domain.QuestionType `json:"type"`
	Required *bool                `json:"required"`
	Order    *int                 `json:"order"`
	Options  *json.RawMessage     `json:"options"`
}

func (s *TemplateService) CreateTemplate(ctx context.Context, id domain.Identity, in TemplateInput) (domain.Template, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Template{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Template{}, domain.Invalid("template name required")
	}
	if !in.ProjectType.Valid() {
		return domain.Template{}, domain.Invalid("unknown project type %q", in.ProjectType)
	}
	now := s.now()
	t := domain.Template{
		ID:          s.newID(),
		Name:        name,
		Description: in.Description,
		ProjectType: in.ProjectType,
		Version:     1,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// GetTemplate is open to any authenticated identity.
func (s *TemplateService) GetTemplate(ctx context.Context, id domain.Identity, templateID string) (domain.Template, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return domain.Template{}, err
	}
	return s.store.GetTemplate(ctx, templateID)
}

func (s *TemplateService) ListTemplates(ctx context.Context, id domain.Identity, opts ListTemplatesOptions) (domain.Page[domain.TemplateSummary], error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Page[domain.TemplateSummary]{}, err
	}
	if opts.ProjectType != "" && !opts.ProjectType.Valid() {
		return domain.Page[domain.TemplateSummary]{}, domain.Invalid("unknown project type %q", opts.ProjectType)
	}
	take := pageSize(opts.Take)
	rows, err := s.store.ListTemplates(ctx, TemplateFilter{
		ActiveOnly:  !opts.IncludeInactive,
		ProjectType: opts.ProjectType,
		Cursor:      opts.Cursor,
		Limit:       take + 1,
	})
	if err != nil {
		return domain.Page[domain.TemplateSummary]{}, err
	}
	return paginate(rows, take, func(t domain.TemplateSummary) string { return t.ID }), nil
}

func (s *TemplateService) UpdateTemplate(ctx context.Context, id domain.Identity, templateID string, patch TemplatePatch) (domain.Template, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Template{}, err
	}
	var t domain.Template
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		t, err = repo.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return domain.Invalid("template name required")
			}
			t.Name = name
		}
		if patch.Description != nil {
			t.Description = *patch.Description
		}
		if patch.ProjectType != nil {
			if !patch.ProjectType.Valid() {
				return domain.Invalid("unknown project type %q", *patch.ProjectType)
			}
			t.ProjectType = *patch.ProjectType
		}
		if patch.IsActive != nil {
			t.IsActive = *patch.IsActive
		}
		t.UpdatedAt = s.now()
		return repo.UpdateTemplate(ctx, t)
	})
	if err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// DeleteTemplate removes an unused template with its questions. Templates
// referenced by a project questionnaire must be deactivated instead.
func (s *TemplateService) DeleteTemplate(ctx context.Context, id domain.Identity, templateID string) error {
	if err := domain.RequireAdmin(id); err != nil {
		return err
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		usage, err := repo.CountQuestionnaires(ctx, QuestionnaireFilter{TemplateID: templateID})
		if err != nil {
			return err
		}
		if usage > 0 {
			return &domain.InUseError{Usage: usage}
		}
		return repo.DeleteTemplate(ctx, templateID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, templateID)
	return nil
}

// DuplicateTemplate copies a template and all of its questions into a new,
// active template one version above the newest of its family.
func (s *TemplateService) DuplicateTemplate(ctx context.Context, id domain.Identity, templateID string, newName *string) (domain.Template, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Template{}, err
	}
	var copied domain.Template
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		original, err := repo.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		latest, err := repo.MaxTemplateVersion(ctx, original.Name, original.ProjectType)
		if err != nil {
			return err
		}
		version := latest + 1
		name := fmt.Sprintf("%s v%d", original.Name, version)
		if newName != nil && strings.TrimSpace(*newName) != "" {
			name = strings.TrimSpace(*newName)
		}
		now := s.now()
		copied = domain.Template{
			ID:          s.newID(),
			Name:        name,
			Description: original.Description,
			ProjectType: original.ProjectType,
			Version:     version,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := repo.CreateTemplate(ctx, copied); err != nil {
			return err
		}
		questions := make([]domain.Question, 0, len(original.Questions))
		for _, q := range original.Questions {
			q.ID = s.newID()
			q.TemplateID = copied.ID
			questions = append(questions, q)
		}
		if err := repo.CreateQuestions(ctx, questions); err != nil {
			return err
		}
		copied.Questions = questions
		return nil
	})
	if err != nil {
		return domain.Template{}, err
	}
	return copied, nil
}

// AddQuestion appends a question; without an explicit order it goes last.
func (s *TemplateService) AddQuestion(ctx context.Context, id domain.Identity, templateID string, in QuestionInput) (domain.Question, error) {
	qs, err := s.addQuestions(ctx, id, templateID, []QuestionInput{in})
	if err != nil {
		return domain.Question{}, err
	}
	return qs[0], nil
}

// AddQuestions appends questions in sequence after the current last one.
func (s *TemplateService) AddQuestions(ctx context.Context, id domain.Identity, templateID string, in []QuestionInput) (int, error) {
	qs, err := s.addQuestions(ctx, id, templateID, in)
	return len(qs), err
}

func (s *TemplateService) addQuestions(ctx context.Context, id domain.Identity, templateID string, inputs []QuestionInput) ([]domain.Question, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return nil, err
	}
	var created []domain.Question
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		last, err := repo.MaxQuestionOrder(ctx, templateID)
		if err != nil {
			return err
		}
		next := last + 1
		created = make([]domain.Question, 0, len(inputs))
		for _, in := range inputs {
			q, err := buildQuestion(in)
			if err != nil {
				return err
			}
			q.ID = s.newID()
			q.TemplateID = templateID
			if in.Order != nil {
				q.Order = *in.Order
			} else {
				q.Order = next
				next++
			}
			created = append(created, q)
		}
		return repo.CreateQuestions(ctx, created)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, templateID)
	return created, nil
}

func buildQuestion(in QuestionInput) (domain.Question, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return domain.Question{}, domain.Invalid("question label required")
	}
	if !in.Type.Valid() {
		return domain.Question{}, domain.Invalid("unknown question type %q", in.Type)
	}
	if in.Order != nil && *in.Order < 1 {
		return domain.Question{}, domain.Invalid("question order must be positive")
	}
	options, err := normalizeOptions(in.Options)
	if err != nil {
		return domain.Question{}, err
	}
	return domain.Question{
		Label:    label,
		Type:     in.Type,
		Required: in.Required,
		Options:  options,
	}, nil
}

// normalizeOptions maps an absent or JSON null payload to nil.
func normalizeOptions(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if !json.Valid([]byte(trimmed)) {
		return nil, domain.Invalid("question options must be JSON")
	}
	return json.RawMessage(trimmed), nil
}

func (s *TemplateService) UpdateQuestion(ctx context.Context, id domain.Identity, questionID string, patch QuestionPatch) (domain.Question, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Question{}, err
	}
	var q domain.Question
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		q, err = repo.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		if patch.Label != nil {
			label := strings.TrimSpace(*patch.Label)
			if label == "" {
				return domain.Invalid("question label required")
			}
			q.Label = label
		}
		if patch.Type != nil {
			if !patch.Type.Valid() {
				return domain.Invalid("unknown question type %q", *patch.Type)
			}
			q.Type = *patch.Type
		}
		if patch.Required != nil {
			q.Required = *patch.Required
		}
		if patch.Order != nil {
			if *patch.Order < 1 {
				return domain.Invalid("question order must be positive")
			}
			q.Order = *patch.Order
		}
		if patch.Options != nil {
			options, err := normalizeOptions(*patch.Options)
			if err != nil {
				return err
			}
			q.Options = options
		}
		return repo.UpdateQuestion(ctx, q)
	})
	if err != nil {
		return domain.Question{}, err
	}
	s.invalidate(ctx, q.TemplateID)
	return q, nil
}

// DeleteQuestion removes a question together with its answers.
func (s *TemplateService) DeleteQuestion(ctx context.Context, id domain.Identity, questionID string) error {
	if err := domain.RequireAdmin(id); err != nil {
		return err
	}
	var templateID string
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		q, err := repo.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		templateID = q.TemplateID
		return repo.DeleteQuestion(ctx, questionID)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, templateID)
	return nil
}

// ReorderQuestions assigns order = position+1 to every question of the
// template. ids must list each of the template's questions exactly once.
func (s *TemplateService) ReorderQuestions(ctx context.Context, id domain.Identity, templateID string, ids []string) (int, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return 0, err
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		current, err := repo.ListQuestions(ctx, templateID)
		if err != nil {
			return err
		}
		if err := domain.ValidateReorder(domain.Refs(current), ids); err != nil {
			return err
		}
		for i, questionID := range ids {
			if err := repo.SetQuestionOrder(ctx, templateID, questionID, i+1); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, templateID)
	return len(ids), nil
}

// ListQuestions returns the template's questions by ascending order.
func (s *TemplateService) ListQuestions(ctx context.Context, id domain.Identity, templateID string) ([]domain.Question, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	return s.store.ListQuestions(ctx, templateID)
}

func (s *TemplateService) invalidate(ctx context.Context, templateID string) {
	if s.questionSets == nil || templateID == "" {
		return
	}
	if err := s.questionSets.Invalidate(ctx, templateID); err != nil {
		log.Printf("invalidate question set %s: %v", templateID, err)
	}
}

func pageSize(take int) int {
	if take <= 0 {
		return defaultPageSize
	}
	if take > 100 {
		return 100
	}
	return take
}

// paginate trims a Limit+1 result to take rows and derives the next cursor.
func paginate[T any](rows []T, take int, idOf func(T) string) domain.Page[T] {
	page := domain.Page[T]{Items: rows}
	if len(rows) > take {
		page.Items = rows[:take]
		page.HasMore = true
		page.NextCursor = idOf(page.Items[take-1])
	}
	if page.Items == nil {
		page.Items = []T{}
	}
	return page
}
