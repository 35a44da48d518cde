package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"horizon-portal/internal/domain"
)

// QuestionnaireService owns the lifecycle of assigned questionnaires: answer
// upserts, submission, forced status changes and progress.
type QuestionnaireService struct {
	store        Store
	questionSets QuestionSetRepository
	hub          *ProgressHub
	recorder     Recorder
	now          func() time.Time
	newID        func() string
}

func NewQuestionnaireService(store Store, questionSets QuestionSetRepository) *QuestionnaireService {
	return &QuestionnaireService{
		store:        store,
		questionSets: questionSets,
		recorder:     nopRecorder{},
		now:          func() time.Time { return time.Now().UTC() },
		newID:        uuid.NewString,
	}
}

// WithHub enables progress pushes after every save and status change.
func (s *QuestionnaireService) WithHub(hub *ProgressHub) *QuestionnaireService {
	s.hub = hub
	return s
}

func (s *QuestionnaireService) WithRecorder(r Recorder) *QuestionnaireService {
	if r != nil {
		s.recorder = r
	}
	return s
}

// WithClock is test-only for deterministic timestamps.
func (s *QuestionnaireService) WithClock(now func() time.Time) *QuestionnaireService {
	s.now = now
	return s
}

// QuestionnaireDetail bundles everything a client needs to render the form.
type QuestionnaireDetail struct {
	Questionnaire domain.ProjectQuestionnaire `json:"questionnaire"`
	Project       domain.Project              `json:"project"`
	Template      domain.Template             `json:"template"`
	Answers       []domain.Answer             `json:"answers"`
	Progress      domain.Progress             `json:"progress"`
}

// Assign attaches a template to a project as a fresh DRAFT questionnaire.
func (s *QuestionnaireService) Assign(ctx context.Context, id domain.Identity, projectID, templateID string) (domain.ProjectQuestionnaire, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.ProjectQuestionnaire{}, err
	}
	pq := domain.ProjectQuestionnaire{
		ID:         s.newID(),
		ProjectID:  projectID,
		TemplateID: templateID,
		Status:     domain.StatusDraft,
		CreatedAt:  s.now(),
	}
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetProject(ctx, projectID); err != nil {
			return err
		}
		if _, err := repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		n, err := repo.CountQuestionnaires(ctx, QuestionnaireFilter{ProjectID: projectID, TemplateID: templateID})
		if err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicateAssignment
		}
		return repo.CreateQuestionnaire(ctx, pq)
	})
	if err != nil {
		return domain.ProjectQuestionnaire{}, err
	}
	return pq, nil
}

// GetQuestionnaire returns the questionnaire with its project, ordered questions, answers and progress.
func (s *QuestionnaireService) GetQuestionnaire(ctx context.Context, id domain.Identity, questionnaireID string) (QuestionnaireDetail, error) {
	pq, project, err := s.loadAccessible(ctx, s.store, id, questionnaireID, false)
	if err != nil {
		return QuestionnaireDetail{}, err
	}
	tmpl, err := s.store.GetTemplate(ctx, pq.TemplateID)
	if err != nil {
		return QuestionnaireDetail{}, err
	}
	answers, err := s.store.ListAnswers(ctx, pq.ID)
	if err != nil {
		return QuestionnaireDetail{}, err
	}
	progress := domain.ComputeProgress(domain.Refs(tmpl.Questions), answers)
	progress.Status = pq.Status
	return QuestionnaireDetail{
		Questionnaire: pq,
		Project:       project,
		Template:      tmpl,
		Answers:       answers,
		Progress:      progress,
	}, nil
}

// ListAnswers returns the questionnaire's answers ordered by question order.
func (s *QuestionnaireService) ListAnswers(ctx context.Context, id domain.Identity, questionnaireID string) ([]domain.Answer, error) {
	pq, _, err := s.loadAccessible(ctx, s.store, id, questionnaireID, false)
	if err != nil {
		return nil, err
	}
	return s.store.ListAnswers(ctx, pq.ID)
}

// SaveAnswer upserts a single answer and returns its id.
func (s *QuestionnaireService) SaveAnswer(ctx context.Context, id domain.Identity, questionnaireID, questionID string, value json.RawMessage) (string, error) {
	ids, err := s.saveAnswers(ctx, id, questionnaireID, []domain.AnswerInput{{QuestionID: questionID, Value: value}})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SaveAnswers upserts a batch; either every answer is stored or none is.
func (s *QuestionnaireService) SaveAnswers(ctx context.Context, id domain.Identity, questionnaireID string, answers []domain.AnswerInput) (int, error) {
	ids, err := s.saveAnswers(ctx, id, questionnaireID, answers)
	return len(ids), err
}

func (s *QuestionnaireService) saveAnswers(ctx context.Context, id domain.Identity, questionnaireID string, inputs []domain.AnswerInput) ([]string, error) {
	ids := make([]string, 0, len(inputs))
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		pq, _, err := s.loadAccessible(ctx, repo, id, questionnaireID, true)
		if err != nil {
			return err
		}
		if err := domain.CheckEditable(pq.Status); err != nil {
			return err
		}
		questions, err := repo.ListQuestions(ctx, pq.TemplateID)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(questions))
		for _, q := range questions {
			known[q.ID] = struct{}{}
		}
		now := s.now()
		for _, in := range inputs {
			if _, ok := known[in.QuestionID]; !ok {
				return domain.ErrQuestionNotFound
			}
			value := bytes.TrimSpace(in.Value)
			if len(value) == 0 || !json.Valid(value) {
				return domain.Invalid("answer for question %s is not a JSON value", in.QuestionID)
			}
			answer := domain.Answer{
				QuestionnaireID: pq.ID,
				QuestionID:      in.QuestionID,
				Value:           json.RawMessage(value),
				UpdatedAt:       now,
			}
			if err := repo.UpsertAnswer(ctx, &answer); err != nil {
				return err
			}
			ids = append(ids, answer.ID)
		}
		return nil
	})
	if err != nil {
		s.reject(err)
		return nil, err
	}
	s.recorder.AnswersSaved(len(ids))
	s.publish(ctx, questionnaireID)
	return ids, nil
}

// Submit moves a complete DRAFT questionnaire to SUBMITTED.
func (s *QuestionnaireService) Submit(ctx context.Context, id domain.Identity, questionnaireID string) (domain.ProjectQuestionnaire, error) {
	var pq domain.ProjectQuestionnaire
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		pq, _, err = s.loadAccessible(ctx, repo, id, questionnaireID, true)
		if err != nil {
			return err
		}
		if err := domain.CheckEditable(pq.Status); err != nil {
			return err
		}
		return s.submitLocked(ctx, repo, &pq)
	})
	if err != nil {
		s.reject(err)
		return domain.ProjectQuestionnaire{}, err
	}
	s.recorder.Transition(domain.StatusDraft, domain.StatusSubmitted)
	s.publish(ctx, questionnaireID)
	return pq, nil
}

// UpdateStatus is the forced status change. Admins may move between any two
// states; owners may only submit a DRAFT, which goes through the
// completeness check.
func (s *QuestionnaireService) UpdateStatus(ctx context.Context, id domain.Identity, questionnaireID string, status domain.QuestionnaireStatus) (domain.ProjectQuestionnaire, error) {
	var (
		pq   domain.ProjectQuestionnaire
		from domain.QuestionnaireStatus
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, repo Repository) error {
		var (
			project domain.Project
			err     error
		)
		pq, project, err = s.lockWithProject(ctx, repo, id, questionnaireID)
		if err != nil {
			return err
		}
		from = pq.Status
		validated, err := domain.AuthorizeTransition(id, project, pq.Status, status)
		if err != nil {
			return err
		}
		if validated {
			return s.submitLocked(ctx, repo, &pq)
		}
		submittedAt := pq.SubmittedAt
		if status == domain.StatusSubmitted && from != domain.StatusSubmitted {
			now := s.now()
			submittedAt = &now
		}
		if err := repo.SetQuestionnaireStatus(ctx, pq.ID, status, submittedAt); err != nil {
			return err
		}
		pq.Status = status
		pq.SubmittedAt = submittedAt
		return nil
	})
	if err != nil {
		s.reject(err)
		return domain.ProjectQuestionnaire{}, err
	}
	if from != pq.Status {
		s.recorder.Transition(from, pq.Status)
	}
	s.publish(ctx, questionnaireID)
	return pq, nil
}

// submitLocked requires pq to be locked by the surrounding transaction.
func (s *QuestionnaireService) submitLocked(ctx context.Context, repo Repository, pq *domain.ProjectQuestionnaire) error {
	questions, err := repo.ListQuestions(ctx, pq.TemplateID)
	if err != nil {
		return err
	}
	answers, err := repo.ListAnswers(ctx, pq.ID)
	if err != nil {
		return err
	}
	if missing := domain.MissingRequired(domain.Refs(questions), answers); missing > 0 {
		return &domain.IncompleteSubmissionError{Missing: missing}
	}
	now := s.now()
	if err := repo.SetQuestionnaireStatus(ctx, pq.ID, domain.StatusSubmitted, &now); err != nil {
		return err
	}
	pq.Status = domain.StatusSubmitted
	pq.SubmittedAt = &now
	return nil
}

// Progress computes completion from the current answers and question set.
func (s *QuestionnaireService) Progress(ctx context.Context, id domain.Identity, questionnaireID string) (domain.Progress, error) {
	pq, _, err := s.loadAccessible(ctx, s.store, id, questionnaireID, false)
	if err != nil {
		return domain.Progress{}, err
	}
	return s.progressOf(ctx, pq)
}

func (s *QuestionnaireService) progressOf(ctx context.Context, pq domain.ProjectQuestionnaire) (domain.Progress, error) {
	set, err := s.questionSets.GetQuestionSet(ctx, pq.TemplateID)
	if err != nil {
		return domain.Progress{}, err
	}
	answers, err := s.store.ListAnswers(ctx, pq.ID)
	if err != nil {
		return domain.Progress{}, err
	}
	p := domain.ComputeProgress(set.Questions, answers)
	p.Status = pq.Status
	return p, nil
}

// Subscribe streams progress snapshots for a questionnaire, starting with the current one.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *QuestionnaireService) Subscribe(ctx context.Context, id domain.Identity, questionnaireID string) (<-chan domain.Progress, func(), error) {
	if s.hub == nil {
		return nil, nil, errors.New("progress hub not configured")
	}
	pq, _, err := s.loadAccessible(ctx, s.store, id, questionnaireID, false)
	if err != nil {
		return nil, nil, err
	}
	initial, err := s.progressOf(ctx, pq)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(questionnaireID, initial)
	return ch, cancel, nil
}

// ListProjectQuestionnaires lists the questionnaires assigned to a project.
func (s *QuestionnaireService) ListProjectQuestionnaires(ctx context.Context, id domain.Identity, projectID string) ([]domain.QuestionnaireSummary, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !domain.CanAccessProject(id, project) {
		return nil, domain.ErrForbidden
	}
	return s.store.ListQuestionnaires(ctx, QuestionnaireFilter{ProjectID: projectID})
}

// PendingQuestionnaires lists the caller's DRAFT questionnaires.
func (s *QuestionnaireService) PendingQuestionnaires(ctx context.Context, id domain.Identity) ([]domain.QuestionnaireSummary, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return nil, err
	}
	return s.store.ListQuestionnaires(ctx, QuestionnaireFilter{ClientID: id.UserID, Status: domain.StatusDraft})
}

func (s *QuestionnaireService) DeleteQuestionnaire(ctx context.Context, id domain.Identity, questionnaireID string) error {
	if err := domain.RequireAdmin(id); err != nil {
		return err
	}
	return s.store.DeleteQuestionnaire(ctx, questionnaireID)
}

// loadAccessible resolves the questionnaire and its project and applies the
// ownership rule. With lock set the row is held for the rest of the transaction.
func (s *QuestionnaireService) loadAccessible(ctx context.Context, repo Repository, id domain.Identity, questionnaireID string, lock bool) (domain.ProjectQuestionnaire, domain.Project, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return domain.ProjectQuestionnaire{}, domain.Project{}, err
	}
	get := repo.GetQuestionnaire
	if lock {
		get = repo.LockQuestionnaire
	}
	pq, err := get(ctx, questionnaireID)
	if err != nil {
		return domain.ProjectQuestionnaire{}, domain.Project{}, err
	}
	project, err := repo.GetProject(ctx, pq.ProjectID)
	if err != nil {
		return domain.ProjectQuestionnaire{}, domain.Project{}, err
	}
	if !domain.CanAccessQuestionnaire(id, project) {
		return domain.ProjectQuestionnaire{}, domain.Project{}, domain.ErrForbidden
	}
	return pq, project, nil
}

// lockWithProject is loadAccessible without the ownership rule, which
// AuthorizeTransition applies with status-specific errors.
func (s *QuestionnaireService) lockWithProject(ctx context.Context, repo Repository, id domain.Identity, questionnaireID string) (domain.ProjectQuestionnaire, domain.Project, error) {
	if err := domain.RequireIdentity(id); err != nil {
		return domain.ProjectQuestionnaire{}, domain.Project{}, err
	}
	pq, err := repo.LockQuestionnaire(ctx, questionnaireID)
	if err != nil {
		return domain.ProjectQuestionnaire{}, domain.Project{}, err
	}
	project, err := repo.GetProject(ctx, pq.ProjectID)
	if err != nil {
		return domain.ProjectQuestionnaire{}, domain.Project{}, err
	}
	return pq, project, nil
}

func (s *QuestionnaireService) publish(ctx context.Context, questionnaireID string) {
	if s.hub == nil || s.hub.Subscribers(questionnaireID) == 0 {
		return
	}
	pq, err := s.store.GetQuestionnaire(ctx, questionnaireID)
	if err != nil {
		log.Printf("progress publish %s: %v", questionnaireID, err)
		return
	}
	p, err := s.progressOf(ctx, pq)
	if err != nil {
		log.Printf("progress publish %s: %v", questionnaireID, err)
		return
	}
	s.hub.Publish(questionnaireID, p)
}

func (s *QuestionnaireService) reject(err error) {
	switch {
	case errors.Is(err, domain.ErrQuestionnaireLocked):
		s.recorder.Rejected("locked")
	case errors.Is(err, domain.ErrAlreadySubmitted):
		s.recorder.Rejected("already_submitted")
	case errors.Is(err, domain.ErrIncompleteSubmission):
		s.recorder.Rejected("incomplete")
	case errors.Is(err, domain.ErrForbidden):
		s.recorder.Rejected("forbidden")
	}
}
