package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"horizon-portal/internal/domain"
)

// jsonValue stores raw JSON in a JSONB column; nil maps to SQL NULL.
type jsonValue json.RawMessage

func (v jsonValue) Value() (driver.Value, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return string(v), nil
}

func (v *jsonValue) Scan(src interface{}) error {
	switch s := src.(type) {
	case nil:
		*v = nil
	case []byte:
		*v = append((*v)[:0], s...)
	case string:
		*v = jsonValue(s)
	default:
		return fmt.Errorf("scan jsonb: unsupported type %T", src)
	}
	return nil
}

type userRow struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID           string    `bun:"id,pk"`
	Name         string    `bun:"name"`
	Email        string    `bun:"email"`
	Role         string    `bun:"role"`
	PasswordHash []byte    `bun:"password_hash,type:bytea"`
	CreatedAt    time.Time `bun:"created_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{
		ID:           r.ID,
		Name:         r.Name,
		Email:        r.Email,
		Role:         domain.Role(r.Role),
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

func userFromDomain(u domain.User) userRow {
	return userRow{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Role:         string(u.Role),
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

type templateRow struct {
	bun.BaseModel `bun:"table:templates,alias:t"`

	ID          string    `bun:"id,pk"`
	Name        string    `bun:"name"`
	Description string    `bun:"description"`
	ProjectType string    `bun:"project_type"`
	Version     int       `bun:"version"`
	IsActive    bool      `bun:"is_active"`
	CreatedAt   time.Time `bun:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at"`
}

func (r templateRow) toDomain() domain.Template {
	return domain.Template{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		ProjectType: domain.ProjectType(r.ProjectType),
		Version:     r.Version,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

func templateFromDomain(t domain.Template) templateRow {
	return templateRow{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		ProjectType: string(t.ProjectType),
		Version:     t.Version,
		IsActive:    t.IsActive,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type templateSummaryRow struct {
	templateRow `bun:",extend"`

	QuestionCount int `bun:"question_count,scanonly"`
	UsageCount    int `bun:"usage_count,scanonly"`
}

type questionRow struct {
	bun.BaseModel `bun:"table:questions,alias:q"`

	ID         string    `bun:"id,pk"`
	TemplateID string    `bun:"template_id"`
	Label      string    `bun:"label"`
	Type       string    `bun:"type"`
	Required   bool      `bun:"required"`
	Order      int       `bun:"sort_order"`
	Options    jsonValue `bun:"options,type:jsonb,nullzero"`
}

func (r questionRow) toDomain() domain.Question {
	return domain.Question{
		ID:         r.ID,
		TemplateID: r.TemplateID,
		Label:      r.Label,
		Type:       domain.QuestionType(r.Type),
		Required:   r.Required,
		Order:      r.Order,
		Options:    json.RawMessage(r.Options),
	}
}

func questionFromDomain(q domain.Question) questionRow {
	return questionRow{
		ID:         q.ID,
		TemplateID: q.TemplateID,
		Label:      q.Label,
		Type:       string(q.Type),
		Required:   q.Required,
		Order:      q.Order,
		Options:    jsonValue(q.Options),
	}
}

type projectRow struct {
	bun.BaseModel `bun:"table:projects,alias:p"`

	ID        string    `bun:"id,pk"`
	Name      string    `bun:"name"`
	ClientID  string    `bun:"client_id"`
	Type      string    `bun:"type"`
	Status    string    `bun:"status"`
	CreatedAt time.Time `bun:"created_at"`
}

func (r projectRow) toDomain() domain.Project {
	return domain.Project{
		ID:        r.ID,
		Name:      r.Name,
		ClientID:  r.ClientID,
		Type:      domain.ProjectType(r.Type),
		Status:    domain.ProjectStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

func projectFromDomain(p domain.Project) projectRow {
	return projectRow{
		ID:        p.ID,
		Name:      p.Name,
		ClientID:  p.ClientID,
		Type:      string(p.Type),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt,
	}
}

type questionnaireRow struct {
	bun.BaseModel `bun:"table:project_questionnaires,alias:pq"`

	ID          string     `bun:"id,pk"`
	ProjectID   string     `bun:"project_id"`
	TemplateID  string     `bun:"template_id"`
	Status      string     `bun:"status"`
	SubmittedAt *time.Time `bun:"submitted_at"`
	CreatedAt   time.Time  `bun:"created_at"`
}

func (r questionnaireRow) toDomain() domain.ProjectQuestionnaire {
	return domain.ProjectQuestionnaire{
		ID:          r.ID,
		ProjectID:   r.ProjectID,
		TemplateID:  r.TemplateID,
		Status:      domain.QuestionnaireStatus(r.Status),
		SubmittedAt: r.SubmittedAt,
		CreatedAt:   r.CreatedAt,
	}
}

func questionnaireFromDomain(pq domain.ProjectQuestionnaire) questionnaireRow {
	return questionnaireRow{
		ID:          pq.ID,
		ProjectID:   pq.ProjectID,
		TemplateID:  pq.TemplateID,
		Status:      string(pq.Status),
		SubmittedAt: pq.SubmittedAt,
		CreatedAt:   pq.CreatedAt,
	}
}

type questionnaireSummaryRow struct {
	questionnaireRow `bun:",extend"`

	ProjectName    string `bun:"project_name,scanonly"`
	ProjectType    string `bun:"project_type,scanonly"`
	TemplateName   string `bun:"template_name,scanonly"`
	TotalQuestions int    `bun:"total_questions,scanonly"`
	AnswerCount    int    `bun:"answer_count,scanonly"`
}

func (r questionnaireSummaryRow) toDomain() domain.QuestionnaireSummary {
	return domain.QuestionnaireSummary{
		ProjectQuestionnaire: r.questionnaireRow.toDomain(),
		ProjectName:          r.ProjectName,
		ProjectType:          domain.ProjectType(r.ProjectType),
		TemplateName:         r.TemplateName,
		TotalQuestions:       r.TotalQuestions,
		AnswerCount:          r.AnswerCount,
	}
}

type answerRow struct {
	bun.BaseModel `bun:"table:answers,alias:a"`

	ID              string    `bun:"id,pk"`
	QuestionnaireID string    `bun:"questionnaire_id"`
	QuestionID      string    `bun:"question_id"`
	Value           jsonValue `bun:"value,type:jsonb"`
	UpdatedAt       time.Time `bun:"updated_at"`
}

func (r answerRow) toDomain() domain.Answer {
	return domain.Answer{
		ID:              r.ID,
		QuestionnaireID: r.QuestionnaireID,
		QuestionID:      r.QuestionID,
		Value:           json.RawMessage(r.Value),
		UpdatedAt:       r.UpdatedAt,
	}
}
