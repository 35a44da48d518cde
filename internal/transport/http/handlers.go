package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
)

type authHandler struct {
	clients *app.ClientService
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *authHandler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.clients.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *authHandler) logout(w http.ResponseWriter, r *http.Request) {
	sessionID := sessionFrom(r.Context())
	if sessionID == "" {
		writeError(w, r, domain.ErrUnauthorized)
		return
	}
	if err := h.clients.Logout(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type clientHandler struct {
	clients  *app.ClientService
	projects *app.ProjectService
}

func (h *clientHandler) search(w http.ResponseWriter, r *http.Request) {
	users, err := h.clients.SearchClients(r.Context(), IdentityFrom(r.Context()), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *clientHandler) create(w http.ResponseWriter, r *http.Request) {
	var in app.UserInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.clients.CreateClient(r.Context(), IdentityFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (h *clientHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.clients.ClientStats(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *clientHandler) get(w http.ResponseWriter, r *http.Request) {
	u, err := h.clients.GetClient(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (h *clientHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.clients.DeleteClient(r.Context(), IdentityFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *clientHandler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.ListClientProjects(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

type templateHandler struct {
	templates *app.TemplateService
}

func (h *templateHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	take, err := queryInt(q.Get("take"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.templates.ListTemplates(r.Context(), IdentityFrom(r.Context()), app.ListTemplatesOptions{
		Cursor:          q.Get("cursor"),
		Take:            take,
		IncludeInactive: q.Get("includeInactive") == "true",
		ProjectType:     domain.ProjectType(q.Get("projectType")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *templateHandler) create(w http.ResponseWriter, r *http.Request) {
	var in app.TemplateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.templates.CreateTemplate(r.Context(), IdentityFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *templateHandler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.templates.GetTemplate(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *templateHandler) update(w http.ResponseWriter, r *http.Request) {
	var patch app.TemplatePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.templates.UpdateTemplate(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *templateHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.DeleteTemplate(r.Context(), IdentityFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type duplicateRequest struct {
	Name *string `json:"name"`
}

func (h *templateHandler) duplicate(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	t, err := h.templates.DuplicateTemplate(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *templateHandler) listQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := h.templates.ListQuestions(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *templateHandler) addQuestion(w http.ResponseWriter, r *http.Request) {
	var in app.QuestionInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.templates.AddQuestion(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

type bulkQuestionsRequest struct {
	Questions []app.QuestionInput `json:"questions"`
}

type countResponse struct {
	Count int `json:"count"`
}

func (h *templateHandler) addQuestions(w http.ResponseWriter, r *http.Request) {
	var req bulkQuestionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.templates.AddQuestions(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), req.Questions)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, countResponse{Count: n})
}

type reorderRequest struct {
	QuestionIDs []string `json:"questionIds"`
}

func (h *templateHandler) reorder(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.templates.ReorderQuestions(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), req.QuestionIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *templateHandler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	var patch app.QuestionPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.templates.UpdateQuestion(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *templateHandler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.templates.DeleteQuestion(r.Context(), IdentityFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type projectHandler struct {
	projects       *app.ProjectService
	questionnaires *app.QuestionnaireService
}

func (h *projectHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	take, err := queryInt(q.Get("take"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.projects.ListProjects(r.Context(), IdentityFrom(r.Context()), app.ListProjectsOptions{
		Cursor: q.Get("cursor"),
		Take:   take,
		Status: domain.ProjectStatus(q.Get("status")),
		Type:   domain.ProjectType(q.Get("type")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *projectHandler) create(w http.ResponseWriter, r *http.Request) {
	var in app.ProjectInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.projects.CreateProject(r.Context(), IdentityFrom(r.Context()), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *projectHandler) get(w http.ResponseWriter, r *http.Request) {
	p, err := h.projects.GetProject(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *projectHandler) update(w http.ResponseWriter, r *http.Request) {
	var patch app.ProjectPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.projects.UpdateProject(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *projectHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.DeleteProject(r.Context(), IdentityFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *projectHandler) listQuestionnaires(w http.ResponseWriter, r *http.Request) {
	rows, err := h.questionnaires.ListProjectQuestionnaires(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type assignRequest struct {
	TemplateID string `json:"templateId"`
}

func (h *projectHandler) assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pq, err := h.questionnaires.Assign(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), req.TemplateID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pq)
}

type questionnaireHandler struct {
	questionnaires *app.QuestionnaireService
	projects       *app.ProjectService
}

func (h *questionnaireHandler) myProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.ListClientProjects(r.Context(), IdentityFrom(r.Context()), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *questionnaireHandler) pending(w http.ResponseWriter, r *http.Request) {
	rows, err := h.questionnaires.PendingQuestionnaires(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *questionnaireHandler) get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.questionnaires.GetQuestionnaire(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *questionnaireHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.questionnaires.DeleteQuestionnaire(r.Context(), IdentityFrom(r.Context()), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *questionnaireHandler) progress(w http.ResponseWriter, r *http.Request) {
	p, err := h.questionnaires.Progress(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *questionnaireHandler) answers(w http.ResponseWriter, r *http.Request) {
	answers, err := h.questionnaires.ListAnswers(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answers)
}

type answerRequest struct {
	Value json.RawMessage `json:"value"`
}

type savedResponse struct {
	ID string `json:"id"`
}

func (h *questionnaireHandler) saveAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.questionnaires.SaveAnswer(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), r.PathValue("questionId"), req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, savedResponse{ID: id})
}

type bulkAnswersRequest struct {
	Answers []domain.AnswerInput `json:"answers"`
}

func (h *questionnaireHandler) saveAnswers(w http.ResponseWriter, r *http.Request) {
	var req bulkAnswersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.questionnaires.SaveAnswers(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

func (h *questionnaireHandler) submit(w http.ResponseWriter, r *http.Request) {
	pq, err := h.questionnaires.Submit(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pq)
}

type statusRequest struct {
	Status domain.QuestionnaireStatus `json:"status"`
}

func (h *questionnaireHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	pq, err := h.questionnaires.UpdateStatus(r.Context(), IdentityFrom(r.Context()), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pq)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, domain.Invalid("take must be a non-negative integer")
	}
	return n, nil
}
