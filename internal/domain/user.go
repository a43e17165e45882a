package domain

import "time"

// User represents an application user stored in the database.
type User struct {
	ID             string
	Username       string
	Avatar         string
	FollowerCount  int
	FollowingCount int
	AllTimeScore   float64
	LastAccruedAt  time.Time
	CreatedAt      time.Time
}

// FollowEdge is a directed follow relation between two users.
type FollowEdge struct {
	FollowerID  string
	FollowingID string
	CreatedAt   time.Time
}

// SearchEntry is the secondary index record for case-insensitive username lookup.
type SearchEntry struct {
	UsernameLower string
	UserID        string
}

// LeaderboardEntry is a derived row on the ranked leaderboard. Rank is assigned
// at query time and tied scores share a rank.
type LeaderboardEntry struct {
	User  *User
	Score float64
	Rank  int
}

// UserView is the composite read model assembled per request. It is never
// persisted as one record.
type UserView struct {
	User         *User
	DayScore     float64
	AllTimeScore float64
	Rank         int
	IsFollowed   bool
}

// SearchResult carries one page of username matches plus the continuation
// cursor when more results exist.
type SearchResult struct {
	Users      []*UserView
	NextCursor string
}
