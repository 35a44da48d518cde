package app_test

import (
	"context"
	"errors"
	"testing"

	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
)

func TestLoginLogout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.clients.Login(ctx, "ada@example.com", "wrong"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := f.clients.Login(ctx, "nobody@example.com", "secret"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}

	res, err := f.clients.Login(ctx, " ADA@example.com ", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	id, sessionID, err := f.clients.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id != f.owner {
		t.Fatalf("expected owner identity, got %+v", id)
	}

	if err := f.clients.Logout(ctx, sessionID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, _, err := f.clients.Authenticate(ctx, res.Token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized after logout, got %v", err)
	}
}

func TestClientAdministration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.clients.CreateClient(ctx, admin, app.UserInput{Name: "Dup", Email: "ada@example.com", Password: "x"}); !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("expected email taken, got %v", err)
	}
	if _, err := f.clients.CreateClient(ctx, f.owner, app.UserInput{Email: "c@example.com", Password: "x"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	found, err := f.clients.SearchClients(ctx, admin, "BOB")
	if err != nil || len(found) != 1 || found[0].ID != f.other.UserID {
		t.Fatalf("unexpected search result %+v err=%v", found, err)
	}
	stats, _ := f.clients.ClientStats(ctx, admin)
	if stats.TotalClients != 2 {
		t.Fatalf("expected 2 clients, got %d", stats.TotalClients)
	}

	if err := f.clients.DeleteClient(ctx, admin, f.owner.UserID); err != nil {
		t.Fatalf("delete client: %v", err)
	}
	if _, err := f.questionnaires.GetQuestionnaire(ctx, admin, f.questionnaireID); !errors.Is(err, domain.ErrQuestionnaireNotFound) {
		t.Fatalf("expected questionnaire removed with client, got %v", err)
	}
}

func TestProjectVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	mine, err := f.projects.ListClientProjects(ctx, f.owner, "")
	if err != nil || len(mine) != 1 || len(mine[0].Questionnaires) != 1 {
		t.Fatalf("unexpected own projects %+v err=%v", mine, err)
	}
	if _, err := f.projects.ListClientProjects(ctx, f.other, f.owner.UserID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.projects.GetProject(ctx, f.other, mine[0].ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden project read, got %v", err)
	}

	status := domain.ProjectStatusOnHold
	if _, err := f.projects.UpdateProject(ctx, admin, mine[0].ID, app.ProjectPatch{Status: &status}); err != nil {
		t.Fatalf("update project: %v", err)
	}
	page, err := f.projects.ListProjects(ctx, admin, app.ListProjectsOptions{Status: domain.ProjectStatusOnHold})
	if err != nil || len(page.Items) != 1 || page.HasMore {
		t.Fatalf("unexpected page %+v err=%v", page, err)
	}

	if err := f.projects.DeleteProject(ctx, admin, mine[0].ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := f.questionnaires.Progress(ctx, admin, f.questionnaireID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected questionnaire gone, got %v", err)
	}
}

func TestProgressHubDropsStaleSnapshots(t *testing.T) {
	hub := app.NewProgressHub()
	ch, cancel := hub.Subscribe("pq-1", domain.Progress{})
	for i := 1; i <= 20; i++ {
		hub.Publish("pq-1", domain.Progress{Answered: i})
	}
	var last domain.Progress
	for len(ch) > 0 {
		last = <-ch
	}
	if last.Answered != 20 {
		t.Fatalf("expected latest snapshot retained, got %+v", last)
	}
	cancel()
	if hub.Subscribers("pq-1") != 0 {
		t.Fatalf("expected subscriber removed")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
}
