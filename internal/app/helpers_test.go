package app

import (
	"context"
	"database/sql"
	"io"
	"sort"
	"sync"
	"time"

	"ballora/api/internal/ai"
	"ballora/api/internal/config"
	"ballora/api/internal/events"
	"ballora/api/internal/notify"
	"ballora/api/internal/session"
	"ballora/api/internal/store"
)

// fakeStore is an in-memory dataStore for tests.
type fakeStore struct {
	mu            sync.Mutex
	users         map[string]store.User
	ideas         map[string]store.Idea
	activities    map[string][]store.Activity
	conversations map[string]store.Conversation
	messages      map[string][]store.Message
	nda           map[string]bool
	revoked       map[string]bool

	userErr       error
	transitionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[string]store.User{},
		ideas:         map[string]store.Idea{},
		activities:    map[string][]store.Activity{},
		conversations: map[string]store.Conversation{},
		messages:      map[string][]store.Message{},
		nda:           map[string]bool{},
		revoked:       map[string]bool{},
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userErr != nil {
		return store.User{}, f.userErr
	}
	u, ok := f.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) UpdateUserProfile(_ context.Context, u store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
	return nil
}

func (f *fakeStore) SetPremium(_ context.Context, userID string, premium bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.Premium = premium
	f.users[userID] = u
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

func (f *fakeStore) InsertIdea(_ context.Context, idea store.Idea) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idea.CreatedAt = time.Now()
	f.ideas[idea.ID] = idea
	return nil
}

func (f *fakeStore) GetIdea(_ context.Context, id string) (store.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idea, ok := f.ideas[id]
	if !ok {
		return store.Idea{}, sql.ErrNoRows
	}
	return idea, nil
}

func (f *fakeStore) ListIdeas(context.Context) ([]store.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Idea, 0, len(f.ideas))
	for _, idea := range f.ideas {
		out = append(out, idea)
	}
	return out, nil
}

func (f *fakeStore) ListIdeasByOwner(_ context.Context, email string) ([]store.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Idea
	for _, idea := range f.ideas {
		if idea.OwnerEmail == email {
			out = append(out, idea)
		}
	}
	return out, nil
}

func (f *fakeStore) ListIdeasByState(_ context.Context, state string) ([]store.Idea, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Idea
	for _, idea := range f.ideas {
		if idea.State == state {
			out = append(out, idea)
		}
	}
	return out, nil
}

func (f *fakeStore) SetIdeaAttachment(_ context.Context, ideaID string, ref *store.FileRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idea, ok := f.ideas[ideaID]
	if !ok {
		return sql.ErrNoRows
	}
	idea.Attachment = ref
	f.ideas[ideaID] = idea
	return nil
}

func (f *fakeStore) TransitionIdea(_ context.Context, ideaID, state string, activities []store.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transitionErr != nil {
		return f.transitionErr
	}
	idea, ok := f.ideas[ideaID]
	if !ok {
		return sql.ErrNoRows
	}
	idea.State = state
	f.ideas[ideaID] = idea
	f.activities[ideaID] = append(f.activities[ideaID], activities...)
	return nil
}

func (f *fakeStore) ListActivities(_ context.Context, ideaID string) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Activity(nil), f.activities[ideaID]...), nil
}

func (f *fakeStore) GetActivity(_ context.Context, ideaID, activityID string) (store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.activities[ideaID] {
		if a.ID == activityID {
			return a, nil
		}
	}
	return store.Activity{}, sql.ErrNoRows
}

func (f *fakeStore) UpdateActivityState(_ context.Context, ideaID, activityID, state string) error {
	return f.mutateActivity(ideaID, activityID, func(a *store.Activity) { a.State = state })
}

func (f *fakeStore) UpdateActivityComment(_ context.Context, ideaID, activityID, comment string) error {
	return f.mutateActivity(ideaID, activityID, func(a *store.Activity) { a.Comment = comment })
}

func (f *fakeStore) SetActivityUpload(_ context.Context, ideaID, activityID string, ref *store.FileRef) error {
	return f.mutateActivity(ideaID, activityID, func(a *store.Activity) { a.UploadedFile = ref })
}

func (f *fakeStore) mutateActivity(ideaID, activityID string, mutate func(*store.Activity)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.activities[ideaID]
	for i := range rows {
		if rows[i].ID == activityID {
			mutate(&rows[i])
			return nil
		}
	}
	return sql.ErrNoRows
}

func (f *fakeStore) ListConversationsByUser(_ context.Context, userID string) ([]store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Conversation
	for _, c := range f.conversations {
		if c.Has(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return c, nil
}

func (f *fakeStore) InsertConversation(_ context.Context, c store.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.LastUpdated = time.Now()
	f.conversations[c.ID] = c
	return nil
}

func (f *fakeStore) InsertMessage(_ context.Context, m store.Message, lastText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[m.ConversationID]
	if !ok {
		return sql.ErrNoRows
	}
	m.CreatedAt = time.Now()
	f.messages[m.ConversationID] = append(f.messages[m.ConversationID], m)
	c.LastMessage = lastText
	c.LastUpdated = m.CreatedAt
	f.conversations[m.ConversationID] = c
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, conversationID string) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Message(nil), f.messages[conversationID]...), nil
}

func (f *fakeStore) UpsertNDAAgreement(_ context.Context, userID, ideaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nda[userID+"|"+ideaID] = true
	return nil
}

func (f *fakeStore) HasNDAAgreement(_ context.Context, userID, ideaID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nda[userID+"|"+ideaID], nil
}

func (f *fakeStore) SummaryCounts(context.Context) (int, int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var waiting, incubation, ready int
	for _, idea := range f.ideas {
		switch idea.State {
		case store.IdeaStateWaiting:
			waiting++
		case store.IdeaStateIncubation:
			incubation++
		case store.IdeaStateReady:
			ready++
		}
	}
	return waiting, incubation, ready, nil
}

// fakeSessions is an in-memory refresh session store.
type fakeSessions struct {
	mu   sync.Mutex
	data map[string]session.TokenData
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: map[string]session.TokenData{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash string, data session.TokenData, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[hash] = data
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (session.TokenData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.data[hash]
	if !ok {
		return session.TokenData{}, sql.ErrNoRows
	}
	return data, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, hash)
	return nil
}

func (f *fakeSessions) Ping(context.Context) error { return nil }

type fakeNotifier struct {
	mu      sync.Mutex
	status  notify.Status
	sendErr error

	sentTo      []string
	sentSubject []string
	sentMessage []string
}

func (f *fakeNotifier) Health(context.Context) notify.Status {
	return f.status
}

func (f *fakeNotifier) Send(_ context.Context, to, subject, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentTo = append(f.sentTo, to)
	f.sentSubject = append(f.sentSubject, subject)
	f.sentMessage = append(f.sentMessage, message)
	return nil
}

type fakeScreener struct {
	eval ai.Evaluation
	err  error

	calls int
}

func (f *fakeScreener) Evaluate(context.Context, ai.Submission) (ai.Evaluation, error) {
	f.calls++
	if f.err != nil {
		return ai.Evaluation{}, f.err
	}
	return f.eval, nil
}

type fakeBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakeBus) Publish(_ context.Context, ev events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeBus) Subscribe(context.Context) (<-chan events.Event, func()) {
	ch := make(chan events.Event)
	close(ch)
	return ch, func() {}
}

type fakeFiles struct {
	mu      sync.Mutex
	uploads map[string]bool
	deleted []string

	deleteErr error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{uploads: map[string]bool{}}
}

func (f *fakeFiles) Upload(_ context.Context, key string, _ io.Reader, _ int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[key] = true
	return "https://blob.test/" + key, nil
}

func (f *fakeFiles) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		TokenSecret: "test-secret",
		AccessTTL:   time.Hour,
		RefreshTTL:  24 * time.Hour,
	}
}

// newTestService wires a Service over the fakes.
func newTestService(fs *fakeStore) (*Service, *fakeNotifier, *fakeScreener, *fakeBus, *fakeFiles) {
	notifier := &fakeNotifier{status: notify.StatusConnected}
	screener := &fakeScreener{eval: ai.Evaluation{Status: ai.StatusAccepted}}
	bus := &fakeBus{}
	files := newFakeFiles()
	svc := &Service{
		cfg:      testConfig(),
		store:    fs,
		sessions: newFakeSessions(),
		notifier: notifier,
		screener: screener,
		bus:      bus,
		files:    files,
	}
	return svc, notifier, screener, bus, files
}

func ownerSession() Session {
	return Session{UserID: "u-owner", Email: "owner@example.com", Role: "idea-owner"}
}

func adminSession() Session {
	return Session{UserID: "u-admin", Email: "admin@example.com", Role: "admin"}
}

func investorSession() Session {
	return Session{UserID: "u-investor", Email: "investor@example.com", Role: "investor"}
}

func seedIdea(fs *fakeStore, id, state string) store.Idea {
	idea := store.Idea{
		ID:          id,
		OwnerEmail:  "owner@example.com",
		IdeaName:    "Smart Irrigation",
		Problem:     "Crops are over-watered",
		Solution:    "Soil sensors drive the schedule",
		State:       state,
		TeamMembers: []string{"leader@example.com", "second@example.com"},
	}
	fs.ideas[id] = idea
	return idea
}
