package app

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"ballora/api/internal/ai"
	"ballora/api/internal/auth"
	"ballora/api/internal/authpw"
	"ballora/api/internal/blob"
	"ballora/api/internal/config"
	"ballora/api/internal/events"
	"ballora/api/internal/notify"
	"ballora/api/internal/rbac"
	"ballora/api/internal/search"
	"ballora/api/internal/session"
	"ballora/api/internal/store"
	"ballora/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	Name         string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(context.Context) error

	CreateUser(context.Context, store.User) error
	GetUserByEmail(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	UpdateUserProfile(context.Context, store.User) error
	SetPremium(context.Context, string, bool) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertIdea(context.Context, store.Idea) error
	GetIdea(context.Context, string) (store.Idea, error)
	ListIdeas(context.Context) ([]store.Idea, error)
	ListIdeasByOwner(context.Context, string) ([]store.Idea, error)
	ListIdeasByState(context.Context, string) ([]store.Idea, error)
	SetIdeaAttachment(context.Context, string, *store.FileRef) error
	TransitionIdea(context.Context, string, string, []store.Activity) error

	ListActivities(context.Context, string) ([]store.Activity, error)
	GetActivity(context.Context, string, string) (store.Activity, error)
	UpdateActivityState(context.Context, string, string, string) error
	UpdateActivityComment(context.Context, string, string, string) error
	SetActivityUpload(context.Context, string, string, *store.FileRef) error

	ListConversationsByUser(context.Context, string) ([]store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	InsertConversation(context.Context, store.Conversation) error
	InsertMessage(context.Context, store.Message, string) error
	ListMessages(context.Context, string) ([]store.Message, error)

	UpsertNDAAgreement(context.Context, string, string) error
	HasNDAAgreement(context.Context, string, string) (bool, error)
	SummaryCounts(context.Context) (int, int, int, error)
}

type refreshSessions interface {
	SaveRefreshSession(context.Context, string, session.TokenData, time.Time) error
	LookupRefreshSession(context.Context, string) (session.TokenData, error)
	RevokeRefreshSession(context.Context, string) error
	Ping(context.Context) error
}

type notifyGateway interface {
	Health(context.Context) notify.Status
	Send(ctx context.Context, to, subject, message string) error
}

type ideaScreener interface {
	Evaluate(context.Context, ai.Submission) (ai.Evaluation, error)
}

type ideaIndex interface {
	Search(search.Query) search.Response
	IndexIdea(search.IdeaRecord)
	DeleteIdea(string)
}

type eventBus interface {
	Publish(context.Context, events.Event) error
	Subscribe(context.Context) (<-chan events.Event, func())
}

type fileStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  refreshSessions
	passwords *authpw.Service
	notifier  notifyGateway
	screener  ideaScreener
	index     ideaIndex
	bus       eventBus
	files     fileStore
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore,
	passwords *authpw.Service, notifier *notify.Client, screener *ai.Client,
	index *search.Service, bus *events.Hub, files *blob.Store) *Service {

	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		sessions:  sessions,
		passwords: passwords,
	}
	// Explicit nil checks so an absent dependency stays a nil interface.
	if notifier != nil {
		svc.notifier = notifier
	}
	if screener != nil {
		svc.screener = screener
	}
	if index != nil {
		svc.index = index
	}
	if bus != nil {
		svc.bus = bus
	}
	if files != nil {
		svc.files = files
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) PingSessions(ctx context.Context) error {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Ping(ctx)
}

func (s *Service) PasswordService() *authpw.Service {
	return s.passwords
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// CreateSession issues an access token plus a redis-backed refresh token
// for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, user store.User) (Session, error) {
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// Re-read the user so a role change (admin grant) takes effect on refresh.
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Role:  user.Role,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), session.TokenData{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      user.Role,
		CreatedAt: now,
	}, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		Name:         displayName(user),
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
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

	// The role is resolved on every request (admins table first), so a
	// stale token never keeps a demoted admin privileged. A store failure
	// here is a role-lookup failure, not a denial.
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if store.ErrNotFound(err) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, errRoleLookup(err)
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		Name:      displayName(user),
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func errRoleLookup(err error) *DomainError {
	return domainError(503, "ROLE_LOOKUP_FAILED", "Could not resolve user role", nil)
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Summary returns the per-state idea counts shown on the admin dashboard.
func (s *Service) Summary(ctx context.Context) (map[string]any, error) {
	waiting, incubation, ready, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"waiting":       waiting,
		"incubation":    incubation,
		"readyToInvest": ready,
	}, nil
}

// NotifierStatus probes the notification gateway and maps the result to
// the operator-facing status line.
func (s *Service) NotifierStatus(ctx context.Context) (notify.Status, string) {
	if s.notifier == nil {
		return notify.StatusDisconnected, gatewayStatusMessages[notify.StatusDisconnected]
	}
	status := s.notifier.Health(ctx)
	return status, gatewayStatusMessages[status]
}

// sendResetEmail delivers a password reset token through the gateway.
// Returns false when no gateway is wired or the send failed, so the
// caller can fall back to the dev bypass.
func (s *Service) sendResetEmail(ctx context.Context, to, token string) bool {
	if s.notifier == nil {
		return false
	}
	message := "We received a request to reset your password.\n\n" +
		"Your reset token is: " + token + "\n\n" +
		"If you did not request this, you can ignore this email."
	if err := s.notifier.Send(ctx, to, "Reset your password", message); err != nil {
		log.Printf("notify: reset email to %s: %v", to, err)
		return false
	}
	return true
}

var gatewayStatusMessages = map[notify.Status]string{
	notify.StatusChecking:     "Checking server...",
	notify.StatusConnected:    "Server connected",
	notify.StatusDisconnected: "Server disconnected - Start backend server",
	notify.StatusError:        "Server error",
}

// SearchIdeas runs a full-text query. Investors are pinned to the
// Ready To Invest stage regardless of the requested filter.
func (s *Service) SearchIdeas(sess Session, q search.Query) search.Response {
	if rbac.Normalize(sess.Role) == rbac.RoleInvestor {
		q.FilterState = store.IdeaStateReady
	}
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.index.Search(q)
}

func (s *Service) indexIdea(idea store.Idea) {
	if s.index == nil {
		return
	}
	s.index.IndexIdea(search.IdeaRecord{
		ID:             idea.ID,
		IdeaName:       idea.IdeaName,
		Problem:        idea.Problem,
		Solution:       idea.Solution,
		Summary:        idea.Summary,
		State:          idea.State,
		ReadinessLevel: idea.ReadinessLevel,
		Fields:         idea.Fields,
	})
}

func (s *Service) publishEvent(ctx context.Context, ev events.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		log.Printf("events: publish %s: %v", ev.Type, err)
	}
}

// SubscribeEvents exposes the event feed to the SSE endpoint. The third
// return is false when no event bus is configured.
func (s *Service) SubscribeEvents(ctx context.Context) (<-chan events.Event, func(), bool) {
	if s.bus == nil {
		return nil, nil, false
	}
	ch, cancel := s.bus.Subscribe(ctx)
	return ch, cancel, true
}

// Profile

func (s *Service) GetProfile(ctx context.Context, sess Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("User not found")
		}
		return nil, err
	}
	return userPayload(user), nil
}

type ProfileInput struct {
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	PhoneNumber    string `json:"phoneNumber"`
	University     string `json:"university"`
	Career         string `json:"career"`
	Specialty      string `json:"specialty"`
	InvestmentType string `json:"investmentType"`
	AboutMe        string `json:"aboutMe"`
	PhotoURL       string `json:"photoUrl"`
}

func (s *Service) UpdateProfile(ctx context.Context, sess Session, input ProfileInput) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if store.ErrNotFound(err) {
			return nil, errNotFound("User not found")
		}
		return nil, err
	}
	if strings.TrimSpace(input.FirstName) == "" || strings.TrimSpace(input.LastName) == "" {
		return nil, errValidation("First and last name are required", nil)
	}

	user.FirstName = strings.TrimSpace(input.FirstName)
	user.LastName = strings.TrimSpace(input.LastName)
	user.PhoneNumber = strings.TrimSpace(input.PhoneNumber)
	user.University = strings.TrimSpace(input.University)
	user.Career = strings.TrimSpace(input.Career)
	user.Specialty = strings.TrimSpace(input.Specialty)
	user.InvestmentType = strings.TrimSpace(input.InvestmentType)
	user.AboutMe = strings.TrimSpace(input.AboutMe)
	user.PhotoURL = strings.TrimSpace(input.PhotoURL)

	if err := s.store.UpdateUserProfile(ctx, user); err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

// SetSubscription toggles the investor premium flag. The payment form
// itself lives outside this service; only the resulting flag is stored.
func (s *Service) SetSubscription(ctx context.Context, sess Session, premium bool) (map[string]any, error) {
	if rbac.Normalize(sess.Role) != rbac.RoleInvestor {
		return nil, errForbidden()
	}
	if err := s.store.SetPremium(ctx, sess.UserID, premium); err != nil {
		return nil, err
	}
	return map[string]any{"premium": premium}, nil
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":             user.ID,
		"email":          user.Email,
		"role":           user.Role,
		"firstName":      user.FirstName,
		"lastName":       user.LastName,
		"phoneNumber":    user.PhoneNumber,
		"university":     user.University,
		"career":         user.Career,
		"specialty":      user.Specialty,
		"investmentType": user.InvestmentType,
		"aboutMe":        user.AboutMe,
		"photoUrl":       user.PhotoURL,
		"premium":        user.Premium,
	}
}

func displayName(user store.User) string {
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		return user.Email
	}
	return name
}
