package app

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"horizon-portal/internal/domain"
)

const searchLimit = 50

// ClientService manages user accounts and login sessions.
type ClientService struct {
	store    Store
	sessions SessionStore
	tokens   TokenSigner
	tokenTTL time.Duration
	now      func() time.Time
	newID    func() string
}

func NewClientService(store Store, sessions SessionStore, tokens TokenSigner, tokenTTL time.Duration) *ClientService {
	return &ClientService{
		store:    store,
		sessions: sessions,
		tokens:   tokens,
		tokenTTL: tokenTTL,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

type UserInput struct {
	Name     string      `json:"name"`
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

type LoginResult struct {
	Token     string      `json:"token"`
	UserID    string      `json:"userId"`
	Role      domain.Role `json:"role"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

type ClientStats struct {
	TotalClients int `json:"totalClients"`
}

// Register creates an account without an acting identity; used to bootstrap admins from the CLI.
func (s *ClientService) Register(ctx context.Context, in UserInput) (domain.User, error) {
	email := normalizeEmail(in.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, domain.Invalid("valid email required")
	}
	if strings.TrimSpace(in.Password) == "" {
		return domain.User{}, domain.Invalid("password required")
	}
	role := in.Role
	if role == "" {
		role = domain.RoleUser
	}
	if role != domain.RoleAdmin && role != domain.RoleUser {
		return domain.User{}, domain.Invalid("unknown role %q", role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           s.newID(),
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// CreateClient lets an admin open a client account.
func (s *ClientService) CreateClient(ctx context.Context, id domain.Identity, in UserInput) (domain.User, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.User{}, err
	}
	in.Role = domain.RoleUser
	return s.Register(ctx, in)
}

// SearchClients matches name or email case-insensitively; an empty query lists all clients.
func (s *ClientService) SearchClients(ctx context.Context, id domain.Identity, query string) ([]domain.User, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, UserFilter{Role: domain.RoleUser, Query: strings.TrimSpace(query), Limit: searchLimit})
}

func (s *ClientService) GetClient(ctx context.Context, id domain.Identity, clientID string) (domain.User, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return domain.User{}, err
	}
	u, err := s.store.GetUser(ctx, clientID)
	if err != nil {
		return domain.User{}, err
	}
	if u.Role != domain.RoleUser {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

// DeleteClient removes a client and, through their projects, every questionnaire they own.
func (s *ClientService) DeleteClient(ctx context.Context, id domain.Identity, clientID string) error {
	if _, err := s.GetClient(ctx, id, clientID); err != nil {
		return err
	}
	return s.store.DeleteUser(ctx, clientID)
}

func (s *ClientService) ClientStats(ctx context.Context, id domain.Identity) (ClientStats, error) {
	if err := domain.RequireAdmin(id); err != nil {
		return ClientStats{}, err
	}
	n, err := s.store.CountUsers(ctx, UserFilter{Role: domain.RoleUser})
	if err != nil {
		return ClientStats{}, err
	}
	return ClientStats{TotalClients: n}, nil
}

// Login verifies credentials and opens a session bound to a signed token.
func (s *ClientService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	u, err := s.store.FindUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return LoginResult{}, domain.ErrInvalidCredentials
	}
	sessionID := s.newID()
	token, expiresAt, err := s.tokens.Issue(u.ID, u.Role, sessionID, s.tokenTTL)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.sessions.Create(ctx, sessionID, u.ID, s.tokenTTL); err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, UserID: u.ID, Role: u.Role, ExpiresAt: expiresAt}, nil
}

// Authenticate turns a bearer token into an identity if its session is still live.
func (s *ClientService) Authenticate(ctx context.Context, token string) (domain.Identity, string, error) {
	id, sessionID, err := s.tokens.Parse(token)
	if err != nil {
		return domain.Identity{}, "", domain.ErrUnauthorized
	}
	ok, err := s.sessions.Exists(ctx, sessionID)
	if err != nil {
		return domain.Identity{}, "", err
	}
	if !ok {
		return domain.Identity{}, "", domain.ErrUnauthorized
	}
	return id, sessionID, nil
}

func (s *ClientService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Delete(ctx, sessionID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
