package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"aiva/api/internal/appconfig"
	"aiva/api/internal/auth"
	"aiva/api/internal/authpw"
	"aiva/api/internal/blob"
	"aiva/api/internal/config"
	"aiva/api/internal/email"
	"aiva/api/internal/export"
	"aiva/api/internal/llm"
	"aiva/api/internal/metrics"
	"aiva/api/internal/search"
	"aiva/api/internal/session"
	"aiva/api/internal/store"
	"aiva/api/internal/util"
	"go.uber.org/zap"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// refreshStore keeps rotating refresh tokens. Redis and Postgres both implement it.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type dataStore interface {
	refreshStore
	Ping(ctx context.Context) error

	EnsureUser(ctx context.Context, user store.User) (store.User, error)
	EnsureUserByName(ctx context.Context, id, name string) (store.User, error)
	EnsureUserByEmail(ctx context.Context, id, email, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	GetWorkspace(ctx context.Context, workspaceID string) (store.Workspace, error)
	GetDefaultWorkspace(ctx context.Context, userID string) (store.Workspace, error)
	CreateWorkspace(ctx context.Context, ws store.Workspace) error
	UpdateWorkspace(ctx context.Context, workspaceID, name, description string) error
	DeleteWorkspace(ctx context.Context, workspaceID string) error
	ListWorkspacesForUser(ctx context.Context, userID string) ([]store.WorkspaceAccess, error)
	GetAccessLevel(ctx context.Context, workspaceID, userID string) (string, error)
	ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]store.WorkspaceMember, error)
	UpsertWorkspaceMember(ctx context.Context, workspaceID, userID, accessLevel string) error
	RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error

	InsertChat(ctx context.Context, chat store.Chat) error
	GetChat(ctx context.Context, chatID string) (store.Chat, error)
	UpdateChat(ctx context.Context, chat store.Chat) error
	RecordChatActivity(ctx context.Context, chatID string, added int, at time.Time) error
	DeleteChat(ctx context.Context, chatID string) error
	DeleteChats(ctx context.Context, userID, workspaceID string) ([]string, error)
	ListChats(ctx context.Context, filter store.ChatFilter) ([]store.ChatSummary, error)

	InsertMessage(ctx context.Context, msg store.Message) error
	GetMessage(ctx context.Context, messageID string) (store.Message, error)
	ListMessages(ctx context.Context, chatID string, limit int) ([]store.Message, error)

	ListMessageActions(ctx context.Context, messageID, userID string) ([]string, error)
	ListChatActions(ctx context.Context, chatID, userID string) (map[string][]string, error)
	SetMessageAction(ctx context.Context, action store.MessageAction, active bool) error
	ListBookmarks(ctx context.Context, userID, workspaceID string) ([]store.Bookmark, error)

	InsertFile(ctx context.Context, file store.File) error
	GetFile(ctx context.Context, fileID string) (store.File, error)
	ListFiles(ctx context.Context, userID, chatID string) ([]store.File, error)
	ListChatFiles(ctx context.Context, chatIDs []string) ([]store.File, error)
	AttachFiles(ctx context.Context, fileIDs []string, chatID, messageID string) error
	DeleteFile(ctx context.Context, fileID string) error
	DeleteFiles(ctx context.Context, fileIDs []string) error
}

// Dependencies are the adapters built in main. Nil optional adapters get an
// in-process stand-in.
type Dependencies struct {
	Store    *store.PostgresStore
	Sessions *session.RedisStore
	Blob     blob.Store
	LLM      llm.Client
	Settings *appconfig.Client
	Search   *search.Service
	Email    *email.Service
	Metrics  metrics.Recorder
	Logger   *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshStore
	blobs     blob.Store
	llm       llm.Client
	settings  *appconfig.Client
	search    *search.Service
	exporter  *export.Service
	mailer    *email.Service
	passwords *authpw.Service
	metrics   metrics.Recorder
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: deps.Store,
		blobs:    deps.Blob,
		llm:      deps.LLM,
		settings: deps.Settings,
		search:   deps.Search,
		exporter: export.NewService(),
		mailer:   deps.Email,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if deps.Sessions != nil {
		s.sessions = deps.Sessions
	}
	s.passwords = authpw.NewService(deps.Store)
	s.fillDefaults()
	return s
}

func (s *Service) fillDefaults() {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.blobs == nil {
		s.blobs = blob.NewMemory()
	}
	if s.settings == nil {
		s.settings = appconfig.New(appconfig.NewMemory(nil), time.Minute, s.logger)
	}
	if s.search == nil {
		s.search = search.NewService(nil, nil, s.logger)
	}
	if s.exporter == nil {
		s.exporter = export.NewService()
	}
	if s.mailer == nil {
		s.mailer = email.NewService(email.Config{})
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
}

// Bootstrap rebuilds the search index from the database in the background.
func (s *Service) Bootstrap(ctx context.Context) {
	go s.search.ReindexAll(context.WithoutCancel(ctx))
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login signs a user in by display name, or by e-mail when one is given.
func (s *Service) Login(ctx context.Context, name, emailAddress string) (Session, error) {
	userName := strings.TrimSpace(name)
	emailAddress = strings.ToLower(strings.TrimSpace(emailAddress))

	var (
		user store.User
		err  error
	)
	if emailAddress != "" {
		if userName == "" {
			userName, _, _ = strings.Cut(emailAddress, "@")
		}
		user, err = s.store.EnsureUserByEmail(ctx, util.NewID("usr"), emailAddress, userName)
	} else {
		if userName == "" {
			userName = "User"
		}
		user, err = s.store.EnsureUserByName(ctx, util.NewID("usr"), userName)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (Session, error) {
	user, err := s.passwords.SignIn(ctx, req)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || errors.Is(err, session.ErrNotFound) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, holder.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Name:  user.DisplayName,
		Email: user.Email,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, current Session, refreshToken string) error {
	if current.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, current.JTI, current.ExpiresAt); err != nil {
			s.logger.Warn("revoke access token", zap.Error(err))
		}
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	tokenHash := auth.HashToken(refreshToken)
	holder, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && !errors.Is(err, session.ErrNotFound) {
			s.logger.Warn("look up refresh token", zap.Error(err))
		}
		return nil
	}
	// Only the holder's own refresh session is revoked.
	if holder.ID != current.UserID {
		s.logger.Warn("logout with foreign refresh token", zap.String("user_id", current.UserID))
		return nil
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		s.logger.Warn("revoke refresh token", zap.Error(err))
	}
	return nil
}

// ensureUser makes sure the session user has a row, recreating it when it was removed.
func (s *Service) ensureUser(ctx context.Context, current Session) (store.User, error) {
	name := current.UserName
	if strings.TrimSpace(name) == "" {
		name = "User"
	}
	user, err := s.store.EnsureUser(ctx, store.User{ID: current.UserID, DisplayName: name, Email: current.Email})
	if err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (s *Service) Me(ctx context.Context, current Session) (map[string]any, error) {
	user, err := s.ensureUser(ctx, current)
	if err != nil {
		return nil, err
	}
	ws, err := s.ensureDefaultWorkspace(ctx, user)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"userId":             user.ID,
		"userName":           user.DisplayName,
		"email":              nilIfEmpty(user.Email),
		"createdAt":          user.CreatedAt,
		"defaultWorkspaceId": ws.ID,
	}, nil
}

// PublicConfig is the client configuration shown to the dashboard before login.
func (s *Service) PublicConfig(ctx context.Context) map[string]any {
	return map[string]any{
		"modelName":       s.settings.String(ctx, appconfig.KeyModelDisplayName, s.modelName()),
		"maxUploadBytes":  s.cfg.MaxUploadBytes,
		"maxMessageChars": s.cfg.MaxMessageChars,
		"features": map[string]any{
			"speech":     s.settings.Bool(ctx, appconfig.KeyFeatureSpeech, true),
			"fileUpload": s.settings.Bool(ctx, appconfig.KeyFeatureUpload, true),
		},
	}
}

func (s *Service) modelName() string {
	if s.llm == nil {
		return ""
	}
	return s.llm.Model()
}

// ReadinessChecks pings every backing service. The bool is false when a required one failed.
func (s *Service) ReadinessChecks(ctx context.Context) (map[string]any, bool) {
	ready := true
	checks := map[string]any{}

	check := func(name string, required bool, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			if required {
				ready = false
			}
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			return
		}
		checks[name] = map[string]any{"status": "ok"}
	}
	check("database", true, s.Ping)
	check("blob", true, s.blobs.Ping)
	check("appConfig", false, s.settings.Ping)
	return checks, ready
}

func nilIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
