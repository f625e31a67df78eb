package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

const userColumns = `id, email, password_hash, role, first_name, last_name, phone_number,
	university, career, specialty, investment_type, about_me, photo_url,
	premium, email_verified, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName,
		&u.PhoneNumber, &u.University, &u.Career, &u.Specialty, &u.InvestmentType,
		&u.AboutMe, &u.PhotoURL, &u.Premium, &u.IsEmailVerified, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, role, first_name, last_name, phone_number,
			university, career, specialty, investment_type, about_me, photo_url, premium, email_verified)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.FirstName, u.LastName, u.PhoneNumber,
		u.University, u.Career, u.Specialty, u.InvestmentType, u.AboutMe, u.PhotoURL,
		u.Premium, u.IsEmailVerified)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = LOWER($1)`, email)
	user, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	return s.withResolvedRole(ctx, user)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		return User{}, err
	}
	return s.withResolvedRole(ctx, user)
}

// withResolvedRole applies the admin override: presence in the admins table
// wins over whatever role the users row carries, checked first.
func (s *PostgresStore) withResolvedRole(ctx context.Context, user User) (User, error) {
	admin, err := s.IsAdmin(ctx, user.ID)
	if err != nil {
		return User{}, err
	}
	if admin {
		user.Role = "admin"
	}
	return user, nil
}

func (s *PostgresStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM admins WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) UpdateUserProfile(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET first_name=$2, last_name=$3, phone_number=$4, university=$5,
			career=$6, specialty=$7, investment_type=$8, about_me=$9, photo_url=$10,
			updated_at=NOW()
		WHERE id=$1
	`, u.ID, u.FirstName, u.LastName, u.PhoneNumber, u.University, u.Career,
		u.Specialty, u.InvestmentType, u.AboutMe, u.PhotoURL)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetPremium(ctx context.Context, userID string, premium bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET premium=$2, updated_at=NOW() WHERE id=$1`, userID, premium)
	if err != nil {
		return fmt.Errorf("set premium: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- access token revocation ----

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}

// ---- ideas ----

const ideaColumns = `id, owner_email, idea_name, problem, solution, advantage, description,
	readiness_level, fields, state, team_members, business_model, summary,
	logo_text, logo_color, attachment, created_at, updated_at`

func scanIdea(row interface{ Scan(...any) error }) (Idea, error) {
	var (
		idea          Idea
		fieldsRaw     []byte
		membersRaw    []byte
		modelRaw      []byte
		attachmentRaw []byte
	)
	err := row.Scan(&idea.ID, &idea.OwnerEmail, &idea.IdeaName, &idea.Problem, &idea.Solution,
		&idea.Advantage, &idea.Description, &idea.ReadinessLevel, &fieldsRaw, &idea.State,
		&membersRaw, &modelRaw, &idea.Summary, &idea.LogoText, &idea.LogoColor,
		&attachmentRaw, &idea.CreatedAt, &idea.UpdatedAt)
	if err != nil {
		return Idea{}, err
	}
	if err := json.Unmarshal(fieldsRaw, &idea.Fields); err != nil {
		return Idea{}, fmt.Errorf("decode idea fields: %w", err)
	}
	if err := json.Unmarshal(membersRaw, &idea.TeamMembers); err != nil {
		return Idea{}, fmt.Errorf("decode team members: %w", err)
	}
	if len(modelRaw) > 0 {
		if err := json.Unmarshal(modelRaw, &idea.BusinessModel); err != nil {
			return Idea{}, fmt.Errorf("decode business model: %w", err)
		}
	}
	if len(attachmentRaw) > 0 {
		var ref FileRef
		if err := json.Unmarshal(attachmentRaw, &ref); err != nil {
			return Idea{}, fmt.Errorf("decode attachment: %w", err)
		}
		idea.Attachment = &ref
	}
	return idea, nil
}

func (s *PostgresStore) InsertIdea(ctx context.Context, idea Idea) error {
	fields, err := json.Marshal(idea.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	members, err := json.Marshal(idea.TeamMembers)
	if err != nil {
		return fmt.Errorf("encode team members: %w", err)
	}
	model, err := json.Marshal(idea.BusinessModel)
	if err != nil {
		return fmt.Errorf("encode business model: %w", err)
	}
	var attachment any
	if idea.Attachment != nil {
		encoded, err := json.Marshal(idea.Attachment)
		if err != nil {
			return fmt.Errorf("encode attachment: %w", err)
		}
		attachment = encoded
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ideas (id, owner_email, idea_name, problem, solution, advantage, description,
			readiness_level, fields, state, team_members, business_model, summary,
			logo_text, logo_color, attachment)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, idea.ID, idea.OwnerEmail, idea.IdeaName, idea.Problem, idea.Solution, idea.Advantage,
		idea.Description, idea.ReadinessLevel, fields, idea.State, members, model,
		idea.Summary, idea.LogoText, idea.LogoColor, attachment)
	if err != nil {
		return fmt.Errorf("insert idea: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, id string) (Idea, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE id=$1`, id)
	return scanIdea(row)
}

func (s *PostgresStore) listIdeas(ctx context.Context, query string, args ...any) ([]Idea, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	var ideas []Idea
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		ideas = append(ideas, idea)
	}
	return ideas, rows.Err()
}

func (s *PostgresStore) ListIdeas(ctx context.Context) ([]Idea, error) {
	return s.listIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas ORDER BY created_at DESC`)
}

func (s *PostgresStore) ListIdeasByOwner(ctx context.Context, email string) ([]Idea, error) {
	return s.listIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE owner_email = LOWER($1) ORDER BY created_at DESC`, email)
}

func (s *PostgresStore) ListIdeasByState(ctx context.Context, state string) ([]Idea, error) {
	return s.listIdeas(ctx, `SELECT `+ideaColumns+` FROM ideas WHERE state = $1 ORDER BY created_at DESC`, state)
}

func (s *PostgresStore) SetIdeaAttachment(ctx context.Context, ideaID string, ref *FileRef) error {
	var attachment any
	if ref != nil {
		encoded, err := json.Marshal(ref)
		if err != nil {
			return fmt.Errorf("encode attachment: %w", err)
		}
		attachment = encoded
	}
	_, err := s.db.ExecContext(ctx, `UPDATE ideas SET attachment=$2, updated_at=NOW() WHERE id=$1`, ideaID, attachment)
	if err != nil {
		return fmt.Errorf("set attachment: %w", err)
	}
	return nil
}

// TransitionIdea persists the new lifecycle state and, when activities are
// provided, provisions them in the same transaction. A failure anywhere
// rolls back everything, so a transition can never leave a partial
// checklist behind.
func (s *PostgresStore) TransitionIdea(ctx context.Context, ideaID, state string, activities []Activity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `UPDATE ideas SET state=$2, updated_at=NOW() WHERE id=$1`, ideaID, state)
	if err != nil {
		return fmt.Errorf("update idea state: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}

	for _, activity := range activities {
		template, err := json.Marshal(activity.TemplateFile)
		if err != nil {
			return fmt.Errorf("encode template file: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activities (id, idea_id, task_name, duration_weeks, template_file, state, comment)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, activity.ID, ideaID, activity.TaskName, activity.DurationWeeks, template, activity.State, activity.Comment); err != nil {
			return fmt.Errorf("insert activity %s: %w", activity.TaskName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// ---- activities ----

const activityColumns = `id, idea_id, task_name, duration_weeks, template_file, uploaded_file, state, comment, created_at`

func scanActivity(row interface{ Scan(...any) error }) (Activity, error) {
	var (
		activity    Activity
		templateRaw []byte
		uploadedRaw []byte
	)
	err := row.Scan(&activity.ID, &activity.IdeaID, &activity.TaskName, &activity.DurationWeeks,
		&templateRaw, &uploadedRaw, &activity.State, &activity.Comment, &activity.CreatedAt)
	if err != nil {
		return Activity{}, err
	}
	if len(templateRaw) > 0 {
		if err := json.Unmarshal(templateRaw, &activity.TemplateFile); err != nil {
			return Activity{}, fmt.Errorf("decode template file: %w", err)
		}
	}
	if len(uploadedRaw) > 0 {
		var ref FileRef
		if err := json.Unmarshal(uploadedRaw, &ref); err != nil {
			return Activity{}, fmt.Errorf("decode uploaded file: %w", err)
		}
		activity.UploadedFile = &ref
	}
	return activity, nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, ideaID string) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+activityColumns+` FROM activities WHERE idea_id=$1 ORDER BY created_at, id
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	var activities []Activity
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, rows.Err()
}

func (s *PostgresStore) GetActivity(ctx context.Context, ideaID, activityID string) (Activity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+` FROM activities WHERE idea_id=$1 AND id=$2
	`, ideaID, activityID)
	return scanActivity(row)
}

func (s *PostgresStore) UpdateActivityState(ctx context.Context, ideaID, activityID, state string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE activities SET state=$3 WHERE idea_id=$1 AND id=$2
	`, ideaID, activityID, state)
	if err != nil {
		return fmt.Errorf("update activity state: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) UpdateActivityComment(ctx context.Context, ideaID, activityID, comment string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE activities SET comment=$3 WHERE idea_id=$1 AND id=$2
	`, ideaID, activityID, comment)
	if err != nil {
		return fmt.Errorf("update activity comment: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) SetActivityUpload(ctx context.Context, ideaID, activityID string, ref *FileRef) error {
	var uploaded any
	if ref != nil {
		encoded, err := json.Marshal(ref)
		if err != nil {
			return fmt.Errorf("encode uploaded file: %w", err)
		}
		uploaded = encoded
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE activities SET uploaded_file=$3 WHERE idea_id=$1 AND id=$2
	`, ideaID, activityID, uploaded)
	if err != nil {
		return fmt.Errorf("set activity upload: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- conversations ----

const conversationColumns = `id, participant_a, participant_b, last_message, last_updated, created_at`

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.ParticipantA, &c.ParticipantB, &c.LastMessage, &c.LastUpdated, &c.CreatedAt)
	return c, err
}

func (s *PostgresStore) ListConversationsByUser(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_a=$1 OR participant_b=$1
		ORDER BY last_updated DESC, created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	return scanConversation(row)
}

func (s *PostgresStore) InsertConversation(ctx context.Context, c Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_a, participant_b, last_message, last_updated)
		VALUES ($1, $2, $3, $4, NOW())
	`, c.ID, c.ParticipantA, c.ParticipantB, c.LastMessage)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// InsertMessage appends a message and refreshes the conversation's
// denormalized last-message fields, last-writer-wins.
func (s *PostgresStore) InsertMessage(ctx context.Context, m Message, lastText string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, type, text, file_name, file_url, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.ConversationID, m.SenderID, m.Type, m.Text, m.FileName, m.FileURL, m.FileSize); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE conversations SET last_message=$2, last_updated=NOW() WHERE id=$1
	`, m.ConversationID, lastText); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, type, text, file_name, file_url, file_size, created_at
		FROM messages WHERE conversation_id=$1 ORDER BY created_at, id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Type, &m.Text,
			&m.FileName, &m.FileURL, &m.FileSize, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ---- NDA agreements ----

func (s *PostgresStore) UpsertNDAAgreement(ctx context.Context, userID, ideaID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nda_agreements (user_id, idea_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, idea_id) DO NOTHING
	`, userID, ideaID)
	if err != nil {
		return fmt.Errorf("record nda agreement: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasNDAAgreement(ctx context.Context, userID, ideaID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM nda_agreements WHERE user_id=$1 AND idea_id=$2)
	`, userID, ideaID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check nda agreement: %w", err)
	}
	return exists, nil
}

// SummaryCounts returns the idea totals per lifecycle stage for the review
// center dashboard.
func (s *PostgresStore) SummaryCounts(ctx context.Context) (waiting, incubation, ready int, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM ideas GROUP BY state`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summary counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return 0, 0, 0, err
		}
		switch state {
		case IdeaStateWaiting:
			waiting = count
		case IdeaStateIncubation:
			incubation = count
		case IdeaStateReady:
			ready = count
		}
	}
	return waiting, incubation, ready, rows.Err()
}

// ErrNotFound reports whether err is the store's row-missing error.
func ErrNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
