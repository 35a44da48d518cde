package app

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"horizon-portal/internal/domain"
)

// ProjectService manages client projects.
type ProjectService struct {
	store Store
	now   func() time.Time
	newID func() string
}

func NewProjectService(store Store) *ProjectService {
	return &ProjectService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

type ProjectInput struct {
	Name     string               `json:"name"`
	ClientID string               `json:"clientId"`
	Type     domain.ProjectType   `json:"type"`
	Status   domain.ProjectStatus `json:"status"`
}

type ProjectPatch struct {
	Name   *string               `json:"name"`
	Status *domain.ProjectStatus `json:"status"`
	Type   *domain.ProjectType   `json:"type"`
}

type ListProjectsOptions struct {
	Cursor string
	Take   int
	Status domain.ProjectStatus
	Type   domain.ProjectType
}

// ProjectDetail is a project with its client and assigned questionnaires.
type ProjectDetail struct {
	domain.Project
	Client         *domain.User                  `json:"client,omitempty"`
	Questionnaires []domain.QuestionnaireSummary `json:"questionnaires"`
}

func (s *ProjectService) CreateProject(ctx context.Context, id domain.Identity, in ProjectInput) (domain.Project, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Project{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Project{}, domain.Invalid("project name required")
	}
	if !in.Type.Valid() {
		return domain.Project{}, domain.Invalid("unknown project type %q", in.Type)
	}
	status := in.Status
	if status == "" {
		status = domain.ProjectStatusActive
	}
	if !status.Valid() {
		return domain.Project{}, domain.Invalid("unknown project status %q", status)
	}
	p := domain.Project{
		ID:        s.newID(),
		Name:      name,
		ClientID:  in.ClientID,
		Type:      in.Type,
		Status:    status,
		CreatedAt: s.now(),
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetUser(ctx, in.ClientID); err != nil {
			return err
		}
		return repo.CreateProject(ctx, p)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// GetProject is open to admins and the owning client.
func (s *ProjectService) GetProject(ctx context.Context, id domain.Identity, projectID string) (ProjectDetail, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return ProjectDetail{}, err
	}
	p, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectDetail{}, err
	}
	if !domain.CanAccessProject(id, p) {
		return ProjectDetail{}, domain.ErrForbidden
	}
	detail, err := s.detail(ctx, p)
	if err != nil {
		return ProjectDetail{}, err
	}
	if client, err := s.store.GetUser(ctx, p.ClientID); err == nil {
		detail.Client = &client
	}
	return detail, nil
}

// ListClientProjects lists a client's projects. Clients may only list their
// own; an empty clientID means the caller.
func (s *ProjectService) ListClientProjects(ctx context.Context, id domain.Identity, clientID string) ([]ProjectDetail, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return nil, err
	}
	target := clientID
	if !id.IsAdmin() {
		if clientID != "" && clientID != id.UserID {
			return nil, domain.ErrForbidden
		}
		target = id.UserID
	}
	if target == "" {
		return nil, domain.Invalid("client id required")
	}
	projects, err := s.store.ListProjects(ctx, ProjectFilter{ClientID: target})
	if err != nil {
		return nil, err
	}
	out := make([]ProjectDetail, 0, len(projects))
	for _, p := range projects {
		detail, err := s.detail(ctx, p)
		if err != nil {
			return nil, err
		}
		out = append(out, detail)
	}
	return out, nil
}

func (s *ProjectService) ListProjects(ctx context.Context, id domain.Identity, opts ListProjectsOptions) (domain.Page[domain.Project], error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Page[domain.Project]{}, err
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return domain.Page[domain.Project]{}, domain.Invalid("unknown project status %q", opts.Status)
	}
	if opts.Type != "" && !opts.Type.Valid() {
		return domain.Page[domain.Project]{}, domain.Invalid("unknown project type %q", opts.Type)
	}
	take := pageSize(opts.Take)
	rows, err := s.store.ListProjects(ctx, ProjectFilter{
		Status: opts.Status,
		Type:   opts.Type,
		Cursor: opts.Cursor,
		Limit:  take + 1,
	})
	if err != nil {
		return domain.Page[domain.Project]{}, err
	}
	return paginate(rows, take, func(p domain.Project) string { return p.ID }), nil
}

func (s *ProjectService) UpdateProject(ctx context.Context, id domain.Identity, projectID string, patch ProjectPatch) (domain.Project, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.Project{}, err
	}
	var p domain.Project
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		p, err = repo.GetProject(ctx, projectID)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			name := strings.TrimSpace(*patch.Name)
			if name == "" {
				return domain.Invalid("project name required")
			}
			p.Name = name
		}
		if patch.Status != nil {
			if !patch.Status.Valid() {
				return domain.Invalid("unknown project status %q", *patch.Status)
			}
			p.Status = *patch.Status
		}
		if patch.Type != nil {
			if !patch.Type.Valid() {
				return domain.Invalid("unknown project type %q", *patch.Type)
			}
			p.Type = *patch.Type
		}
		return repo.UpdateProject(ctx, p)
	})
	if err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject removes the project with its questionnaires and answers.
func (s *ProjectService) DeleteProject(ctx context.Context, id domain.Identity, projectID string) error {
	if err := domain.RequireAdmin(id); err != nil {
		return err
	}
	return s.store.DeleteProject(ctx, projectID)
}

func (s *ProjectService) detail(ctx context.Context, p domain.Project) (ProjectDetail, error) {
	qs, err := s.store.ListQuestionnaires(ctx, QuestionnaireFilter{ProjectID: p.ID})
	if err != nil {
		return ProjectDetail{}, err
	}
	return ProjectDetail{Project: p, Questionnaires: qs}, nil
}
