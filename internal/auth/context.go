// Package auth carries the signed-in user through request contexts. Sign-in
// itself happens elsewhere; this package only consumes its result.
package auth

import (
	"context"
	"sync"
)

type contextKey struct{}

type AuthContext struct {
	UserID string
	// Token is the backend bearer token for this user, if any.
	Token string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) string {
	ac, ok := FromContext(ctx)
	if !ok {
		return ""
	}
	return ac.UserID
}

// Session reports the user currently signed in on this device.
type Session interface {
	Current() (AuthContext, bool)
}

// StaticSession is a Session whose user is set by the host application.
type StaticSession struct {
	mu sync.RWMutex
	ac AuthContext
}

func NewStaticSession(userID, token string) *StaticSession {
	return &StaticSession{ac: AuthContext{UserID: userID, Token: token}}
}

func (s *StaticSession) Current() (AuthContext, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ac, s.ac.UserID != ""
}

// SignIn replaces the current user. An empty userID signs out.
func (s *StaticSession) SignIn(userID, token string) {
	s.mu.Lock()
	s.ac = AuthContext{UserID: userID, Token: token}
	s.mu.Unlock()
}

func (s *StaticSession) SignOut() {
	s.SignIn("", "")
}
