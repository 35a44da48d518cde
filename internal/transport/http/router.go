package http

import (
	"net/http"

	"horizon-portal/internal/app"
)

// API bundles the services exposed over HTTP.
type API struct {
	Questionnaires *app.QuestionnaireService
	Templates      *app.TemplateService
	Projects       *app.ProjectService
	Clients        *app.ClientService
	Metrics        http.Handler
}

// NewRouter wires every REST route, the progress websocket, and the health
// and metrics endpoints behind the auth middleware.
func NewRouter(api API) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if api.Metrics != nil {
		mux.Handle("GET /metrics", api.Metrics)
	}

	auth := &authHandler{clients: api.Clients}
	mux.HandleFunc("POST /api/auth/login", auth.login)
	mux.HandleFunc("POST /api/auth/logout", auth.logout)

	clients := &clientHandler{clients: api.Clients, projects: api.Projects}
	mux.HandleFunc("GET /api/clients", clients.search)
	mux.HandleFunc("POST /api/clients", clients.create)
	mux.HandleFunc("GET /api/clients/stats", clients.stats)
	mux.HandleFunc("GET /api/clients/{id}", clients.get)
	mux.HandleFunc("DELETE /api/clients/{id}", clients.delete)
	mux.HandleFunc("GET /api/clients/{id}/projects", clients.listProjects)

	templates := &templateHandler{templates: api.Templates}
	mux.HandleFunc("GET /api/templates", templates.list)
	mux.HandleFunc("POST /api/templates", templates.create)
	mux.HandleFunc("GET /api/templates/{id}", templates.get)
	mux.HandleFunc("PATCH /api/templates/{id}", templates.update)
	mux.HandleFunc("DELETE /api/templates/{id}", templates.delete)
	mux.HandleFunc("POST /api/templates/{id}/duplicate", templates.duplicate)
	mux.HandleFunc("GET /api/templates/{id}/questions", templates.listQuestions)
	mux.HandleFunc("POST /api/templates/{id}/questions", templates.addQuestion)
	mux.HandleFunc("POST /api/templates/{id}/questions/bulk", templates.addQuestions)
	mux.HandleFunc("PUT /api/templates/{id}/questions/order", templates.reorder)
	mux.HandleFunc("PATCH /api/questions/{id}", templates.updateQuestion)
	mux.HandleFunc("DELETE /api/questions/{id}", templates.deleteQuestion)

	projects := &projectHandler{projects: api.Projects, questionnaires: api.Questionnaires}
	mux.HandleFunc("GET /api/projects", projects.list)
	mux.HandleFunc("POST /api/projects", projects.create)
	mux.HandleFunc("GET /api/projects/{id}", projects.get)
	mux.HandleFunc("PATCH /api/projects/{id}", projects.update)
	mux.HandleFunc("DELETE /api/projects/{id}", projects.delete)
	mux.HandleFunc("GET /api/projects/{id}/questionnaires", projects.listQuestionnaires)
	mux.HandleFunc("POST /api/projects/{id}/questionnaires", projects.assign)

	questionnaires := &questionnaireHandler{questionnaires: api.Questionnaires, projects: api.Projects}
	mux.HandleFunc("GET /api/me/projects", questionnaires.myProjects)
	mux.HandleFunc("GET /api/me/questionnaires/pending", questionnaires.pending)
	mux.HandleFunc("GET /api/questionnaires/{id}", questionnaires.get)
	mux.HandleFunc("DELETE /api/questionnaires/{id}", questionnaires.delete)
	mux.HandleFunc("GET /api/questionnaires/{id}/progress", questionnaires.progress)
	mux.HandleFunc("GET /api/questionnaires/{id}/answers", questionnaires.answers)
	mux.HandleFunc("POST /api/questionnaires/{id}/answers", questionnaires.saveAnswers)
	mux.HandleFunc("PUT /api/questionnaires/{id}/answers/{questionId}", questionnaires.saveAnswer)
	mux.HandleFunc("POST /api/questionnaires/{id}/submit", questionnaires.submit)
	mux.HandleFunc("PATCH /api/questionnaires/{id}/status", questionnaires.updateStatus)

	ws := NewWSHandler(api.Questionnaires)
	mux.HandleFunc("GET /ws/questionnaires/{id}", ws.ServeWS)

	return WithAuth(api.Clients, mux)
}
