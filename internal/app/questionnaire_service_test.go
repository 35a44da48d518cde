package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
	"horizon-portal/internal/infra/memory"
)

var admin = domain.Identity{UserID: "admin-1", Role: domain.RoleAdmin}

type fixture struct {
	store          *memory.Store
	hub            *app.ProgressHub
	templates      *app.TemplateService
	projects       *app.ProjectService
	questionnaires *app.QuestionnaireService
	clients        *app.ClientService

	owner           domain.Identity
	other           domain.Identity
	templateID      string
	questionIDs     []string
	questionnaireID string
}

// newFixture seeds one client project with a template of two required
// questions followed by one optional question, assigned as a DRAFT.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	cache := memory.NewQuestionSetCache(store, time.Minute)
	hub := app.NewProgressHub()
	f := &fixture{
		store:          store,
		hub:            hub,
		templates:      app.NewTemplateService(store, cache),
		projects:       app.NewProjectService(store),
		questionnaires: app.NewQuestionnaireService(store, cache).WithHub(hub),
		clients:        app.NewClientService(store, memory.NewSessionStore(), &fakeSigner{}, time.Hour),
	}

	owner, err := f.clients.CreateClient(ctx, admin, app.UserInput{Name: "Ada", Email: "ada@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	other, err := f.clients.CreateClient(ctx, admin, app.UserInput{Name: "Bob", Email: "bob@example.com", Password: "secret"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	f.owner = domain.Identity{UserID: owner.ID, Role: domain.RoleUser}
	f.other = domain.Identity{UserID: other.ID, Role: domain.RoleUser}

	tmpl, err := f.templates.CreateTemplate(ctx, admin, app.TemplateInput{Name: "Website intake", ProjectType: domain.ProjectTypeWebsite})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	f.templateID = tmpl.ID
	for _, q := range []app.QuestionInput{
		{Label: "Company name", Type: domain.QuestionTypeText, Required: true},
		{Label: "Launch date", Type: domain.QuestionTypeText, Required: true},
		{Label: "Anything else?", Type: domain.QuestionTypeText},
	} {
		created, err := f.templates.AddQuestion(ctx, admin, tmpl.ID, q)
		if err != nil {
			t.Fatalf("add question: %v", err)
		}
		f.questionIDs = append(f.questionIDs, created.ID)
	}

	project, err := f.projects.CreateProject(ctx, admin, app.ProjectInput{Name: "Marketing site", ClientID: owner.ID, Type: domain.ProjectTypeWebsite})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	pq, err := f.questionnaires.Assign(ctx, admin, project.ID, tmpl.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	f.questionnaireID = pq.ID
	return f
}

func (f *fixture) save(t *testing.T, id domain.Identity, questionIdx int, value string) string {
	t.Helper()
	answerID, err := f.questionnaires.SaveAnswer(context.Background(), id, f.questionnaireID, f.questionIDs[questionIdx], json.RawMessage(value))
	if err != nil {
		t.Fatalf("save answer %d: %v", questionIdx, err)
	}
	return answerID
}

func TestProgressTracksAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	p, err := f.questionnaires.Progress(ctx, f.owner, f.questionnaireID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Total != 3 || p.Required != 2 || p.Answered != 0 || p.PercentComplete != 0 || p.CanSubmit {
		t.Fatalf("unexpected initial progress %+v", p)
	}

	f.save(t, f.owner, 0, `"Acme"`)
	p, _ = f.questionnaires.Progress(ctx, f.owner, f.questionnaireID)
	if p.Answered != 1 || p.AnsweredRequired != 1 || p.PercentComplete != 33 || p.CanSubmit {
		t.Fatalf("unexpected progress after one answer %+v", p)
	}

	f.save(t, f.owner, 1, `"2026-12-01"`)
	p, _ = f.questionnaires.Progress(ctx, f.owner, f.questionnaireID)
	if p.Answered != 2 || p.PercentComplete != 67 || !p.CanSubmit {
		t.Fatalf("unexpected progress after required answers %+v", p)
	}
}

func TestSaveAnswerOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.save(t, f.owner, 0, `"Acme"`)
	second := f.save(t, f.owner, 0, `"Acme Corp"`)
	if first != second {
		t.Fatalf("expected the same answer row, got %s and %s", first, second)
	}
	answers, err := f.questionnaires.ListAnswers(ctx, f.owner, f.questionnaireID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	if len(answers) != 1 || string(answers[0].Value) != `"Acme Corp"` {
		t.Fatalf("expected one overwritten answer, got %+v", answers)
	}
}

func TestSaveAnswersIsAtomic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.questionnaires.SaveAnswers(ctx, f.owner, f.questionnaireID, []domain.AnswerInput{
		{QuestionID: f.questionIDs[0], Value: json.RawMessage(`"Acme"`)},
		{QuestionID: "not-a-question", Value: json.RawMessage(`"x"`)},
	})
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	answers, _ := f.questionnaires.ListAnswers(ctx, f.owner, f.questionnaireID)
	if len(answers) != 0 {
		t.Fatalf("expected no answers stored, got %d", len(answers))
	}

	n, err := f.questionnaires.SaveAnswers(ctx, f.owner, f.questionnaireID, []domain.AnswerInput{
		{QuestionID: f.questionIDs[0], Value: json.RawMessage(`"Acme"`)},
		{QuestionID: f.questionIDs[2], Value: json.RawMessage(`{"notes":["fast"]}`)},
	})
	if err != nil || n != 2 {
		t.Fatalf("expected 2 saved, got %d err=%v", n, err)
	}
}

func TestSaveAnswerRejectsInvalidValue(t *testing.T) {
	f := newFixture(t)
	_, err := f.questionnaires.SaveAnswer(context.Background(), f.owner, f.questionnaireID, f.questionIDs[0], json.RawMessage(`{not json`))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestSubmitRequiresAllRequired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, f.owner, 0, `"Acme"`)
	f.save(t, f.owner, 2, `"optional"`)

	_, err := f.questionnaires.Submit(ctx, f.owner, f.questionnaireID)
	var incomplete *domain.IncompleteSubmissionError
	if !errors.As(err, &incomplete) || incomplete.Missing != 1 {
		t.Fatalf("expected one missing required question, got %v", err)
	}
	detail, _ := f.questionnaires.GetQuestionnaire(ctx, f.owner, f.questionnaireID)
	if detail.Questionnaire.Status != domain.StatusDraft {
		t.Fatalf("expected DRAFT after failed submit, got %s", detail.Questionnaire.Status)
	}
}

func TestSubmitFreezesAnswers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	submittedAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	f.questionnaires.WithClock(func() time.Time { return submittedAt })
	f.save(t, f.owner, 0, `"Acme"`)
	f.save(t, f.owner, 1, `"soon"`)

	pq, err := f.questionnaires.Submit(ctx, f.owner, f.questionnaireID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pq.Status != domain.StatusSubmitted || pq.SubmittedAt == nil || !pq.SubmittedAt.Equal(submittedAt) {
		t.Fatalf("unexpected submitted questionnaire %+v", pq)
	}

	_, err = f.questionnaires.SaveAnswer(ctx, f.owner, f.questionnaireID, f.questionIDs[2], json.RawMessage(`"late"`))
	if !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
	if _, err := f.questionnaires.Submit(ctx, f.owner, f.questionnaireID); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted on resubmit, got %v", err)
	}
}

func TestAdminForcedTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	submittedAt := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	f.questionnaires.WithClock(func() time.Time { return submittedAt })

	// admins bypass completeness
	pq, err := f.questionnaires.UpdateStatus(ctx, admin, f.questionnaireID, domain.StatusSubmitted)
	if err != nil {
		t.Fatalf("force submit: %v", err)
	}
	if pq.SubmittedAt == nil {
		t.Fatalf("expected submittedAt set")
	}

	if _, err := f.questionnaires.UpdateStatus(ctx, admin, f.questionnaireID, domain.StatusLocked); err != nil {
		t.Fatalf("lock: %v", err)
	}
	_, err = f.questionnaires.SaveAnswer(ctx, f.owner, f.questionnaireID, f.questionIDs[0], json.RawMessage(`"x"`))
	if !errors.Is(err, domain.ErrQuestionnaireLocked) {
		t.Fatalf("expected locked, got %v", err)
	}

	pq, err = f.questionnaires.UpdateStatus(ctx, admin, f.questionnaireID, domain.StatusDraft)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if pq.Status != domain.StatusDraft || pq.SubmittedAt == nil || !pq.SubmittedAt.Equal(submittedAt) {
		t.Fatalf("expected DRAFT keeping submittedAt, got %+v", pq)
	}
	f.save(t, f.owner, 0, `"editable again"`)
}

func TestRejectedSavesLeaveAnswersUntouched(t *testing.T) {
	cases := []struct {
		name   string
		status domain.QuestionnaireStatus
		want   error
		bulk   bool
	}{
		{name: "single on submitted", status: domain.StatusSubmitted, want: domain.ErrAlreadySubmitted},
		{name: "bulk on submitted", status: domain.StatusSubmitted, want: domain.ErrAlreadySubmitted, bulk: true},
		{name: "single on locked", status: domain.StatusLocked, want: domain.ErrQuestionnaireLocked},
		{name: "bulk on locked", status: domain.StatusLocked, want: domain.ErrQuestionnaireLocked, bulk: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.save(t, f.owner, 0, `"Acme"`)
			f.save(t, f.owner, 1, `"soon"`)
			if _, err := f.questionnaires.UpdateStatus(ctx, admin, f.questionnaireID, tc.status); err != nil {
				t.Fatalf("move to %s: %v", tc.status, err)
			}
			before := answerSnapshot(t, f)

			var err error
			if tc.bulk {
				_, err = f.questionnaires.SaveAnswers(ctx, f.owner, f.questionnaireID, []domain.AnswerInput{
					{QuestionID: f.questionIDs[0], Value: json.RawMessage(`"Overwritten"`)},
					{QuestionID: f.questionIDs[2], Value: json.RawMessage(`"new"`)},
				})
			} else {
				_, err = f.questionnaires.SaveAnswer(ctx, f.owner, f.questionnaireID, f.questionIDs[0], json.RawMessage(`"Overwritten"`))
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}

			after := answerSnapshot(t, f)
			if len(after) != len(before) {
				t.Fatalf("answer count changed from %d to %d", len(before), len(after))
			}
			for i := range before {
				if before[i] != after[i] {
					t.Fatalf("answer %d changed: %q -> %q", i, before[i], after[i])
				}
			}
		})
	}
}

// answerSnapshot renders each answer row as "id|question|value|updatedAt".
func answerSnapshot(t *testing.T, f *fixture) []string {
	t.Helper()
	answers, err := f.questionnaires.ListAnswers(context.Background(), admin, f.questionnaireID)
	if err != nil {
		t.Fatalf("list answers: %v", err)
	}
	out := make([]string, 0, len(answers))
	for _, a := range answers {
		out = append(out, fmt.Sprintf("%s|%s|%s|%s", a.ID, a.QuestionID, a.Value, a.UpdatedAt.Format(time.RFC3339Nano)))
	}
	return out
}

func TestForcedResubmitKeepsSubmittedAt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec := &transitionCounter{}
	f.questionnaires.WithRecorder(rec)
	first := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	f.questionnaires.WithClock(func() time.Time { return first })
	if _, err := f.questionnaires.UpdateStatus(ctx, admin, f.questionnaireID, domain.StatusSubmitted); err != nil {
		t.Fatalf("force submit: %v", err)
	}

	f.questionnaires.WithClock(func() time.Time { return first.Add(time.Hour) })
	pq, err := f.questionnaires.UpdateStatus(ctx, admin, f.questionnaireID, domain.StatusSubmitted)
	if err != nil {
		t.Fatalf("force submit again: %v", err)
	}
	if pq.SubmittedAt == nil || !pq.SubmittedAt.Equal(first) {
		t.Fatalf("expected submittedAt to stay %v, got %v", first, pq.SubmittedAt)
	}
	if rec.transitions != 1 {
		t.Fatalf("expected one recorded transition, got %d", rec.transitions)
	}
}

type transitionCounter struct {
	transitions int
}

func (r *transitionCounter) AnswersSaved(int) {}

func (r *transitionCounter) Transition(_, _ domain.QuestionnaireStatus) {
	r.transitions++
}

func (r *transitionCounter) Rejected(string) {}

func TestOwnerStatusChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.questionnaires.UpdateStatus(ctx, f.owner, f.questionnaireID, domain.StatusLocked); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden lock, got %v", err)
	}
	if _, err := f.questionnaires.UpdateStatus(ctx, f.owner, f.questionnaireID, domain.StatusSubmitted); !errors.Is(err, domain.ErrIncompleteSubmission) {
		t.Fatalf("expected incomplete submission, got %v", err)
	}
	f.save(t, f.owner, 0, `"Acme"`)
	f.save(t, f.owner, 1, `"soon"`)
	pq, err := f.questionnaires.UpdateStatus(ctx, f.owner, f.questionnaireID, domain.StatusSubmitted)
	if err != nil || pq.Status != domain.StatusSubmitted {
		t.Fatalf("expected owner submit, got %+v err=%v", pq, err)
	}
	if _, err := f.questionnaires.UpdateStatus(ctx, f.owner, f.questionnaireID, domain.StatusDraft); !errors.Is(err, domain.ErrAlreadySubmitted) {
		t.Fatalf("expected already submitted, got %v", err)
	}
}

func TestAccessControl(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.questionnaires.GetQuestionnaire(ctx, f.other, f.questionnaireID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden read, got %v", err)
	}
	_, err := f.questionnaires.SaveAnswer(ctx, f.other, f.questionnaireID, f.questionIDs[0], json.RawMessage(`"x"`))
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden write, got %v", err)
	}
	if _, err := f.questionnaires.GetQuestionnaire(ctx, f.other, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before forbidden, got %v", err)
	}
	if _, err := f.questionnaires.Progress(ctx, domain.Identity{}, f.questionnaireID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := f.questionnaires.GetQuestionnaire(ctx, admin, f.questionnaireID); err != nil {
		t.Fatalf("admin read: %v", err)
	}
}

func TestAssignRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	detail, _ := f.questionnaires.GetQuestionnaire(ctx, admin, f.questionnaireID)

	_, err := f.questionnaires.Assign(ctx, admin, detail.Project.ID, f.templateID)
	if !errors.Is(err, domain.ErrDuplicateAssignment) {
		t.Fatalf("expected duplicate assignment, got %v", err)
	}
	if _, err := f.questionnaires.Assign(ctx, f.owner, detail.Project.ID, f.templateID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden assign, got %v", err)
	}
}

func TestConcurrentSavesKeepOneAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := json.RawMessage(fmt.Sprintf(`%d`, i))
			if _, err := f.questionnaires.SaveAnswer(ctx, f.owner, f.questionnaireID, f.questionIDs[0], value); err != nil {
				t.Errorf("save %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	answers, _ := f.questionnaires.ListAnswers(ctx, f.owner, f.questionnaireID)
	if len(answers) != 1 {
		t.Fatalf("expected one answer row, got %d", len(answers))
	}
}

func TestConcurrentSubmitAndSave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, f.owner, 0, `"Acme"`)
	f.save(t, f.owner, 1, `"soon"`)

	var wg sync.WaitGroup
	var saveErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = f.questionnaires.Submit(ctx, f.owner, f.questionnaireID)
	}()
	go func() {
		defer wg.Done()
		_, saveErr = f.questionnaires.SaveAnswer(ctx, f.owner, f.questionnaireID, f.questionIDs[2], json.RawMessage(`"late"`))
	}()
	wg.Wait()

	detail, err := f.questionnaires.GetQuestionnaire(ctx, f.owner, f.questionnaireID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Questionnaire.Status != domain.StatusSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", detail.Questionnaire.Status)
	}
	// the save either landed before the submit or was rejected after it
	if saveErr != nil && !errors.Is(saveErr, domain.ErrAlreadySubmitted) {
		t.Fatalf("unexpected save error %v", saveErr)
	}
	if saveErr == nil && len(detail.Answers) != 3 {
		t.Fatalf("expected accepted save to be stored, got %d answers", len(detail.Answers))
	}
}

func TestSubscribeReceivesProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	ch, cancel, err := f.questionnaires.Subscribe(ctx, f.owner, f.questionnaireID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	initial := <-ch
	if initial.Answered != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", initial)
	}

	f.save(t, f.owner, 0, `"Acme"`)
	select {
	case update := <-ch:
		if update.Answered != 1 || update.PercentComplete != 33 {
			t.Fatalf("unexpected update %+v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for progress")
	}

	if _, _, err := f.questionnaires.Subscribe(ctx, f.other, f.questionnaireID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden subscribe, got %v", err)
	}
}

func TestPendingQuestionnaires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, f.owner, 0, `"Acme"`)

	pending, err := f.questionnaires.PendingQuestionnaires(ctx, f.owner)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].TotalQuestions != 3 || pending[0].AnswerCount != 1 {
		t.Fatalf("unexpected pending %+v", pending)
	}
	if pending, _ := f.questionnaires.PendingQuestionnaires(ctx, f.other); len(pending) != 0 {
		t.Fatalf("expected nothing pending for another client")
	}
}

func TestDeleteQuestionDropsAnswersAndUpdatesProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, f.owner, 0, `"Acme"`)
	if _, err := f.questionnaires.Progress(ctx, f.owner, f.questionnaireID); err != nil {
		t.Fatalf("progress: %v", err)
	}

	if err := f.templates.DeleteQuestion(ctx, admin, f.questionIDs[0]); err != nil {
		t.Fatalf("delete question: %v", err)
	}
	p, err := f.questionnaires.Progress(ctx, f.owner, f.questionnaireID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Total != 2 || p.Answered != 0 {
		t.Fatalf("expected cache invalidated and answer removed, got %+v", p)
	}
}

type fakeSigner struct{}

func (fakeSigner) Issue(userID string, role domain.Role, sessionID string, ttl time.Duration) (string, time.Time, error) {
	return userID + "|" + string(role) + "|" + sessionID, time.Now().Add(ttl), nil
}

func (fakeSigner) Parse(token string) (domain.Identity, string, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 3 {
		return domain.Identity{}, "", errors.New("malformed token")
	}
	return domain.Identity{UserID: parts[0], Role: domain.Role(parts[1])}, parts[2], nil
}

var _ app.TokenSigner = fakeSigner{}
