package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
	"horizon-portal/internal/app"
	"horizon-portal/internal/domain"
)

const uniqueViolation = "23505"

// Store implements app.Store on Postgres through bun.
type Store struct {
	db   *bun.DB
	idb  bun.IDB
	inTx bool
}

var _ app.Store = (*Store)(nil)

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, idb: db}
}

// RunInTx runs fn in a transaction; nested calls reuse the outer one.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repo app.Repository) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{db: s.db, idb: tx, inTx: true})
	})
}

func (s *Store) CreateTemplate(ctx context.Context, t domain.Template) error {
	row := templateFromDomain(t)
	_, err := s.idb.NewInsert().Model(&row).Exec(ctx)
	return wrap("create template", err)
}

func (s *Store) GetTemplate(ctx context.Context, id string) (domain.Template, error) {
	var row templateRow
	err := s.idb.NewSelect().Model(&row).Where("t.id = ?", id).Scan(ctx)
	if err != nil {
		return domain.Template{}, notFound(err, domain.ErrTemplateNotFound, "get template")
	}
	t := row.toDomain()
	if t.Questions, err = s.ListQuestions(ctx, id); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (s *Store) ListTemplates(ctx context.Context, f app.TemplateFilter) ([]domain.TemplateSummary, error) {
	var rows []templateSummaryRow
	q := s.idb.NewSelect().Model(&rows).
		ColumnExpr("t.*").
		ColumnExpr("(SELECT count(*) FROM questions AS q WHERE q.template_id = t.id) AS question_count").
		ColumnExpr("(SELECT count(*) FROM project_questionnaires AS pq WHERE pq.template_id = t.id) AS usage_count").
		Order("t.created_at DESC", "t.id DESC")
	if f.ActiveOnly {
		q = q.Where("t.is_active")
	}
	if f.ProjectType != "" {
		q = q.Where("t.project_type = ?", string(f.ProjectType))
	}
	if f.Cursor != "" {
		q = q.Where("(t.created_at, t.id) < (SELECT created_at, id FROM templates WHERE id = ?)", f.Cursor)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list templates", err)
	}
	out := make([]domain.TemplateSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.TemplateSummary{
			Template:      r.templateRow.toDomain(),
			QuestionCount: r.QuestionCount,
			UsageCount:    r.UsageCount,
		})
	}
	return out, nil
}

func (s *Store) UpdateTemplate(ctx context.Context, t domain.Template) error {
	row := templateFromDomain(t)
	res, err := s.idb.NewUpdate().Model(&row).
		Column("name", "description", "project_type", "is_active", "updated_at").
		WherePK().
		Exec(ctx)
	return affected(res, err, domain.ErrTemplateNotFound, "update template")
}

func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res, err := s.idb.NewDelete().Model((*templateRow)(nil)).Where("id = ?", id).Exec(ctx)
	return affected(res, err, domain.ErrTemplateNotFound, "delete template")
}

func (s *Store) MaxTemplateVersion(ctx context.Context, namePrefix string, projectType domain.ProjectType) (int, error) {
	var max int
	err := s.idb.NewSelect().Model((*templateRow)(nil)).
		ColumnExpr("COALESCE(MAX(t.version), 0)").
		Where("t.name LIKE ? ESCAPE '\\'", escapeLike(namePrefix)+"%").
		Where("t.project_type = ?", string(projectType)).
		Scan(ctx, &max)
	return max, wrap("max template version", err)
}

func (s *Store) CreateQuestions(ctx context.Context, qs []domain.Question) error {
	if len(qs) == 0 {
		return nil
	}
	rows := make([]questionRow, 0, len(qs))
	for _, q := range qs {
		rows = append(rows, questionFromDomain(q))
	}
	_, err := s.idb.NewInsert().Model(&rows).Exec(ctx)
	return wrap("create questions", err)
}

func (s *Store) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	var row questionRow
	if err := s.idb.NewSelect().Model(&row).Where("q.id = ?", id).Scan(ctx); err != nil {
		return domain.Question{}, notFound(err, domain.ErrQuestionNotFound, "get question")
	}
	return row.toDomain(), nil
}

func (s *Store) ListQuestions(ctx context.Context, templateID string) ([]domain.Question, error) {
	var rows []questionRow
	err := s.idb.NewSelect().Model(&rows).
		Where("q.template_id = ?", templateID).
		Order("q.sort_order ASC", "q.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrap("list questions", err)
	}
	out := make([]domain.Question, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, q domain.Question) error {
	row := questionFromDomain(q)
	res, err := s.idb.NewUpdate().Model(&row).
		Column("label", "type", "required", "sort_order", "options").
		WherePK().
		Exec(ctx)
	return affected(res, err, domain.ErrQuestionNotFound, "update question")
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	res, err := s.idb.NewDelete().Model((*questionRow)(nil)).Where("id = ?", id).Exec(ctx)
	return affected(res, err, domain.ErrQuestionNotFound, "delete question")
}

func (s *Store) MaxQuestionOrder(ctx context.Context, templateID string) (int, error) {
	var max int
	err := s.idb.NewSelect().Model((*questionRow)(nil)).
		ColumnExpr("COALESCE(MAX(q.sort_order), 0)").
		Where("q.template_id = ?", templateID).
		Scan(ctx, &max)
	return max, wrap("max question order", err)
}

func (s *Store) SetQuestionOrder(ctx context.Context, templateID, questionID string, order int) error {
	res, err := s.idb.NewUpdate().Model((*questionRow)(nil)).
		Set("sort_order = ?", order).
		Where("id = ?", questionID).
		Where("template_id = ?", templateID).
		Exec(ctx)
	return affected(res, err, domain.ErrQuestionNotFound, "set question order")
}

func (s *Store) CreateProject(ctx context.Context, p domain.Project) error {
	row := projectFromDomain(p)
	_, err := s.idb.NewInsert().Model(&row).Exec(ctx)
	return wrap("create project", err)
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var row projectRow
	if err := s.idb.NewSelect().Model(&row).Where("p.id = ?", id).Scan(ctx); err != nil {
		return domain.Project{}, notFound(err, domain.ErrProjectNotFound, "get project")
	}
	return row.toDomain(), nil
}

func (s *Store) ListProjects(ctx context.Context, f app.ProjectFilter) ([]domain.Project, error) {
	var rows []projectRow
	q := s.idb.NewSelect().Model(&rows).Order("p.created_at DESC", "p.id DESC")
	if f.ClientID != "" {
		q = q.Where("p.client_id = ?", f.ClientID)
	}
	if f.Status != "" {
		q = q.Where("p.status = ?", string(f.Status))
	}
	if f.Type != "" {
		q = q.Where("p.type = ?", string(f.Type))
	}
	if f.Cursor != "" {
		q = q.Where("(p.created_at, p.id) < (SELECT created_at, id FROM projects WHERE id = ?)", f.Cursor)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list projects", err)
	}
	out := make([]domain.Project, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) UpdateProject(ctx context.Context, p domain.Project) error {
	row := projectFromDomain(p)
	res, err := s.idb.NewUpdate().Model(&row).
		Column("name", "type", "status").
		WherePK().
		Exec(ctx)
	return affected(res, err, domain.ErrProjectNotFound, "update project")
}

func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.idb.NewDelete().Model((*projectRow)(nil)).Where("id = ?", id).Exec(ctx)
	return affected(res, err, domain.ErrProjectNotFound, "delete project")
}

func (s *Store) CreateQuestionnaire(ctx context.Context, pq domain.ProjectQuestionnaire) error {
	row := questionnaireFromDomain(pq)
	_, err := s.idb.NewInsert().Model(&row).Exec(ctx)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateAssignment
	}
	return wrap("create questionnaire", err)
}

func (s *Store) GetQuestionnaire(ctx context.Context, id string) (domain.ProjectQuestionnaire, error) {
	var row questionnaireRow
	if err := s.idb.NewSelect().Model(&row).Where("pq.id = ?", id).Scan(ctx); err != nil {
		return domain.ProjectQuestionnaire{}, notFound(err, domain.ErrQuestionnaireNotFound, "get questionnaire")
	}
	return row.toDomain(), nil
}

// LockQuestionnaire takes a row lock held until the surrounding transaction
// ends, serializing saves and status changes on one questionnaire.
func (s *Store) LockQuestionnaire(ctx context.Context, id string) (domain.ProjectQuestionnaire, error) {
	var row questionnaireRow
	err := s.idb.NewSelect().Model(&row).Where("pq.id = ?", id).For("UPDATE").Scan(ctx)
	if err != nil {
		return domain.ProjectQuestionnaire{}, notFound(err, domain.ErrQuestionnaireNotFound, "lock questionnaire")
	}
	return row.toDomain(), nil
}

func (s *Store) ListQuestionnaires(ctx context.Context, f app.QuestionnaireFilter) ([]domain.QuestionnaireSummary, error) {
	var rows []questionnaireSummaryRow
	q := s.idb.NewSelect().Model(&rows).
		ColumnExpr("pq.*").
		ColumnExpr("p.name AS project_name, p.type AS project_type, t.name AS template_name").
		ColumnExpr("(SELECT count(*) FROM questions AS q WHERE q.template_id = pq.template_id) AS total_questions").
		ColumnExpr("(SELECT count(*) FROM answers AS a WHERE a.questionnaire_id = pq.id) AS answer_count").
		Join("JOIN projects AS p ON p.id = pq.project_id").
		Join("JOIN templates AS t ON t.id = pq.template_id").
		Order("pq.created_at DESC", "pq.id DESC")
	q = applyQuestionnaireFilter(q, f)
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list questionnaires", err)
	}
	out := make([]domain.QuestionnaireSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CountQuestionnaires(ctx context.Context, f app.QuestionnaireFilter) (int, error) {
	q := s.idb.NewSelect().Model((*questionnaireRow)(nil))
	n, err := applyQuestionnaireFilter(q, f).Count(ctx)
	return n, wrap("count questionnaires", err)
}

func applyQuestionnaireFilter(q *bun.SelectQuery, f app.QuestionnaireFilter) *bun.SelectQuery {
	if f.ProjectID != "" {
		q = q.Where("pq.project_id = ?", f.ProjectID)
	}
	if f.TemplateID != "" {
		q = q.Where("pq.template_id = ?", f.TemplateID)
	}
	if f.Status != "" {
		q = q.Where("pq.status = ?", string(f.Status))
	}
	if f.ClientID != "" {
		q = q.Where("pq.project_id IN (SELECT id FROM projects WHERE client_id = ?)", f.ClientID)
	}
	return q
}

func (s *Store) SetQuestionnaireStatus(ctx context.Context, id string, status domain.QuestionnaireStatus, submittedAt *time.Time) error {
	res, err := s.idb.NewUpdate().Model((*questionnaireRow)(nil)).
		Set("status = ?", string(status)).
		Set("submitted_at = ?", submittedAt).
		Where("id = ?", id).
		Exec(ctx)
	return affected(res, err, domain.ErrQuestionnaireNotFound, "set questionnaire status")
}

func (s *Store) DeleteQuestionnaire(ctx context.Context, id string) error {
	res, err := s.idb.NewDelete().Model((*questionnaireRow)(nil)).Where("id = ?", id).Exec(ctx)
	return affected(res, err, domain.ErrQuestionnaireNotFound, "delete questionnaire")
}

// UpsertAnswer relies on the (questionnaire_id, question_id) unique key so
// concurrent saves converge on one row.
func (s *Store) UpsertAnswer(ctx context.Context, a *domain.Answer) error {
	id := a.ID
	if id == "" {
		id = uuid.NewString()
	}
	row := answerRow{
		ID:              id,
		QuestionnaireID: a.QuestionnaireID,
		QuestionID:      a.QuestionID,
		Value:           jsonValue(a.Value),
		UpdatedAt:       a.UpdatedAt,
	}
	err := s.idb.NewInsert().Model(&row).
		On("CONFLICT (questionnaire_id, question_id) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("id").
		Scan(ctx)
	if err != nil {
		return wrap("upsert answer", err)
	}
	a.ID = row.ID
	return nil
}

func (s *Store) ListAnswers(ctx context.Context, questionnaireID string) ([]domain.Answer, error) {
	var rows []answerRow
	err := s.idb.NewSelect().Model(&rows).
		ColumnExpr("a.*").
		Join("JOIN questions AS q ON q.id = a.question_id").
		Where("a.questionnaire_id = ?", questionnaireID).
		Order("q.sort_order ASC", "q.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrap("list answers", err)
	}
	out := make([]domain.Answer, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	row := userFromDomain(u)
	_, err := s.idb.NewInsert().Model(&row).Exec(ctx)
	if isUniqueViolation(err) {
		return domain.ErrEmailTaken
	}
	return wrap("create user", err)
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var row userRow
	if err := s.idb.NewSelect().Model(&row).Where("u.id = ?", id).Scan(ctx); err != nil {
		return domain.User{}, notFound(err, domain.ErrUserNotFound, "get user")
	}
	return row.toDomain(), nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var row userRow
	if err := s.idb.NewSelect().Model(&row).Where("lower(u.email) = lower(?)", email).Scan(ctx); err != nil {
		return domain.User{}, notFound(err, domain.ErrUserNotFound, "find user")
	}
	return row.toDomain(), nil
}

func (s *Store) ListUsers(ctx context.Context, f app.UserFilter) ([]domain.User, error) {
	var rows []userRow
	q := userQuery(s.idb.NewSelect().Model(&rows), f).Order("u.created_at DESC", "u.id DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap("list users", err)
	}
	out := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) CountUsers(ctx context.Context, f app.UserFilter) (int, error) {
	n, err := userQuery(s.idb.NewSelect().Model((*userRow)(nil)), f).Count(ctx)
	return n, wrap("count users", err)
}

func userQuery(q *bun.SelectQuery, f app.UserFilter) *bun.SelectQuery {
	if f.Role != "" {
		q = q.Where("u.role = ?", string(f.Role))
	}
	if f.Query != "" {
		pattern := "%" + escapeLike(f.Query) + "%"
		q = q.Where("(u.name ILIKE ? ESCAPE '\\' OR u.email ILIKE ? ESCAPE '\\')", pattern, pattern)
	}
	return q
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.idb.NewDelete().Model((*userRow)(nil)).Where("id = ?", id).Exec(ctx)
	return affected(res, err, domain.ErrUserNotFound, "delete user")
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(err, missing error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	return wrap(op, err)
}

func affected(res sql.Result, err, missing error, op string) error {
	if err != nil {
		return wrap(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == uniqueViolation
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
