package domain

import (
	"encoding/json"
	"time"
)

// Role distinguishes administrators from clients.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// Identity is the authenticated principal acting on a request.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the identity carries the ADMIN role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// ProjectType is shared by projects and the templates targeting them.
type ProjectType string

const (
	ProjectTypeWebsite ProjectType = "WEBSITE"
	ProjectTypeSaaS    ProjectType = "SAAS"
	ProjectTypeApp     ProjectType = "APP"
	ProjectTypeCustom  ProjectType = "CUSTOM"
)

func (t ProjectType) Valid() bool {
	switch t {
	case ProjectTypeWebsite, ProjectTypeSaaS, ProjectTypeApp, ProjectTypeCustom:
		return true
	}
	return false
}

type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "ACTIVE"
	ProjectStatusCompleted ProjectStatus = "COMPLETED"
	ProjectStatusOnHold    ProjectStatus = "ON_HOLD"
	ProjectStatusCancelled ProjectStatus = "CANCELLED"
)

func (s ProjectStatus) Valid() bool {
	switch s {
	case ProjectStatusActive, ProjectStatusCompleted, ProjectStatusOnHold, ProjectStatusCancelled:
		return true
	}
	return false
}

// QuestionType describes how a question is rendered; answer values are not checked against it.
type QuestionType string

const (
	QuestionTypeText        QuestionType = "TEXT"
	QuestionTypeNumber      QuestionType = "NUMBER"
	QuestionTypeBoolean     QuestionType = "BOOLEAN"
	QuestionTypeSelect      QuestionType = "SELECT"
	QuestionTypeMultiSelect QuestionType = "MULTI_SELECT"
	QuestionTypeFile        QuestionType = "FILE"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeText, QuestionTypeNumber, QuestionTypeBoolean,
		QuestionTypeSelect, QuestionTypeMultiSelect, QuestionTypeFile:
		return true
	}
	return false
}

// QuestionnaireStatus is the lifecycle state of an assigned questionnaire.
type QuestionnaireStatus string

const (
	StatusDraft     QuestionnaireStatus = "DRAFT"
	StatusSubmitted QuestionnaireStatus = "SUBMITTED"
	StatusLocked    QuestionnaireStatus = "LOCKED"
)

func (s QuestionnaireStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusLocked:
		return true
	}
	return false
}

// User is an account; clients are users with RoleUser.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Template is a reusable questionnaire definition.
type Template struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ProjectType ProjectType `json:"projectType"`
	Version     int         `json:"version"`
	IsActive    bool        `json:"isActive"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	Questions   []Question  `json:"questions,omitempty"`
}

// TemplateSummary is a list row with aggregate counts.
type TemplateSummary struct {
	Template
	QuestionCount int `json:"questionCount"`
	UsageCount    int `json:"usageCount"`
}

type Question struct {
	ID         string          `json:"id"`
	TemplateID string          `json:"templateId"`
	Label      string          `json:"label"`
	Type       QuestionType    `json:"type"`
	Required   bool            `json:"required"`
	Order      int             `json:"order"`
	Options    json.RawMessage `json:"options,omitempty"`
}

type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	ClientID  string        `json:"clientId"`
	Type      ProjectType   `json:"type"`
	Status    ProjectStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ProjectQuestionnaire is a template assigned to a project.
type ProjectQuestionnaire struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"projectId"`
	TemplateID  string              `json:"templateId"`
	Status      QuestionnaireStatus `json:"status"`
	SubmittedAt *time.Time          `json:"submittedAt,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
}

type Answer struct {
	ID              string          `json:"id"`
	QuestionnaireID string          `json:"questionnaireId"`
	QuestionID      string          `json:"questionId"`
	Value           json.RawMessage `json:"value"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// AnswerInput is one (question, value) pair of a save request.
type AnswerInput struct {
	QuestionID string          `json:"questionId"`
	Value      json.RawMessage `json:"value"`
}

// QuestionRef is the slice of a question that completion needs.
type QuestionRef struct {
	ID       string `json:"id"`
	Required bool   `json:"required"`
}

// QuestionSet is the cached completion-relevant view of a template.
type QuestionSet struct {
	TemplateID string        `json:"templateId"`
	Questions  []QuestionRef `json:"questions"`
}

// Refs reduces full questions to completion refs.
func Refs(questions []Question) []QuestionRef {
	refs := make([]QuestionRef, 0, len(questions))
	for _, q := range questions {
		refs = append(refs, QuestionRef{ID: q.ID, Required: q.Required})
	}
	return refs
}

// QuestionnaireSummary is a questionnaire list row.
type QuestionnaireSummary struct {
	ProjectQuestionnaire
	ProjectName    string      `json:"projectName,omitempty"`
	ProjectType    ProjectType `json:"projectType,omitempty"`
	TemplateName   string      `json:"templateName"`
	TotalQuestions int         `json:"totalQuestions"`
	AnswerCount    int         `json:"answerCount"`
}

// Page carries a cursor-paginated result.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}
