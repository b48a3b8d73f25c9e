package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the issued access token and user info.
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	User        UserInfo  `json:"user"`
	IssuedAt    time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	FullName  string   `json:"full_name"`
	Role      UserRole `json:"role"`
	StudentID string   `json:"student_id,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	StudentID string   `json:"student_id,omitempty"`
	Email     string   `json:"email"`
	jwt.RegisteredClaims
}

// Actor is the caller on whose behalf a service operation runs.
type Actor struct {
	UserID    string
	Role      UserRole
	StudentID string
}

// ActorFromClaims derives the acting user from validated token claims.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role, StudentID: claims.StudentID}
}

// IsAdmin reports whether the actor holds the tutor role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanAccessStudent reports whether the actor may see data belonging to studentID.
func (a Actor) CanAccessStudent(studentID string) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleStudent && a.StudentID != "" && a.StudentID == studentID
}
