package store

import "time"

// Idea lifecycle states. Transitions are one-directional in the common
// path; Ready To Invest is terminal.
const (
	IdeaStateWaiting    = "Waiting"
	IdeaStateIncubation = "Incubation"
	IdeaStateReady      = "Ready To Invest"
)

// Activity review states. The admin selector may set any of the three
// directly.
const (
	ActivityStateWaiting = "Waiting"
	ActivityStateReview  = "Review"
	ActivityStateDone    = "Done"
)

type User struct {
	ID              string
	Email           string
	PasswordHash    string
	Role            string
	FirstName       string
	LastName        string
	PhoneNumber     string
	University      string
	Career          string
	Specialty       string
	InvestmentType  string
	AboutMe         string
	PhotoURL        string
	Premium         bool
	IsEmailVerified bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FileRef is a stored reference to an object in blob storage. Key is the
// object key used for deletion; it may be empty for template files that
// live outside the bucket.
type FileRef struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Key  string `json:"key,omitempty"`
	Size string `json:"size,omitempty"`
}

type Idea struct {
	ID             string
	OwnerEmail     string
	IdeaName       string
	Problem        string
	Solution       string
	Advantage      string
	Description    string
	ReadinessLevel string
	Fields         []string
	State          string
	TeamMembers    []string
	BusinessModel  map[string][]string
	Summary        string
	LogoText       string
	LogoColor      string
	Attachment     *FileRef
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TeamLeader returns the leader email, always teamMember[0].
func (i Idea) TeamLeader() string {
	if len(i.TeamMembers) == 0 {
		return ""
	}
	return i.TeamMembers[0]
}

type Activity struct {
	ID            string
	IdeaID        string
	TaskName      string
	DurationWeeks int
	TemplateFile  FileRef
	UploadedFile  *FileRef
	State         string
	Comment       string
	CreatedAt     time.Time
}

type Conversation struct {
	ID           string
	ParticipantA string
	ParticipantB string
	LastMessage  string
	LastUpdated  time.Time
	CreatedAt    time.Time
}

// Other returns the participant that is not userID.
func (c Conversation) Other(userID string) string {
	if c.ParticipantA == userID {
		return c.ParticipantB
	}
	return c.ParticipantA
}

// Has reports whether userID participates in the conversation.
func (c Conversation) Has(userID string) bool {
	return c.ParticipantA == userID || c.ParticipantB == userID
}

const (
	MessageTypeText  = "text"
	MessageTypeFile  = "file"
	MessageTypeImage = "image"
)

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Type           string
	Text           string
	FileName       string
	FileURL        string
	FileSize       string
	CreatedAt      time.Time
}

type NDAAgreement struct {
	UserID   string
	IdeaID   string
	AgreedAt time.Time
}
