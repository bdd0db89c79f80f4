package models

import "time"

// User is a registered account.
type User struct {
	ID           int       `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FullName     string    `db:"full_name" json:"full_name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	ProfilePic   string    `db:"profile_pic" json:"profile_pic,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// RosterEntry is the sidebar view of a peer: profile plus conversation summary.
type RosterEntry struct {
	User
	LatestMessage *Message `json:"latest_message,omitempty"`
	UnreadCount   int      `json:"unread_count"`
	Status        string   `json:"status"`
}
