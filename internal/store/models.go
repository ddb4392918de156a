package store

import "time"

type User struct {
	ID                    string
	Username              string
	Email                 string
	PasswordHash          string
	IsAdmin               bool
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	ResetToken            string
	ResetExpiresAt        *time.Time
	Country               string
	Region                string
	Address               string
	Website               string
	About                 string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Space struct {
	ID          string
	URL         string
	Name        string
	Description string
	AuthorID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type SpaceRole struct {
	SpaceID   string
	UserID    string
	Username  string
	Role      string
	GrantedAt time.Time
}

type ProposalSet struct {
	ID        string
	SpaceID   string
	Name      string
	DebateID  *string
	AuthorID  string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProposalField struct {
	ID            string
	ProposalSetID string
	FieldName     string
}

type Proposal struct {
	ID            string
	SpaceID       string
	ProposalSetID *string
	Title         string
	Body          string
	AuthorID      string
	Author        string
	Merged        bool
	ExtraFields   map[string]string
	Supports      int
	PubDate       time.Time
	UpdatedAt     time.Time
}

type Post struct {
	ID           string
	SpaceID      *string
	SpaceURL     string
	Title        string
	Description  string
	AuthorID     string
	Author       string
	PubIndex     bool
	Views        int
	Tags         []string
	CommentCount int
	PubDate      time.Time
	LastUp       time.Time
}

type Comment struct {
	ID        string
	PostID    string
	AuthorID  string
	Author    string
	Body      string
	CreatedAt time.Time
}

type Avatar struct {
	ID          string
	UserID      string
	ObjectKey   string
	ContentType string
	Valid       bool
	CreatedAt   time.Time
}

type EmailValidation struct {
	UserID    string
	Email     string
	KeyHash   string
	CreatedAt time.Time
}

// SearchHit is one row of the Postgres search fallback.
type SearchHit struct {
	Type     string
	ID       string
	Title    string
	Body     string
	SpaceURL string
}
