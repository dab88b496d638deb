// Package auth keeps the backend's token pair and the logged-in user's
// profile next to the scan cache, and tells listeners when they change.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"

	"github.com/threatscope/console/internal/cache"
	"github.com/threatscope/console/internal/mlclient"
)

// Storage keys.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUser         = "user"
)

// ErrNotLoggedIn is returned when no session is stored.
var ErrNotLoggedIn = errors.New("auth: not logged in")

// Event is published whenever the stored session changes.
type Event struct {
	Key      string `json:"key"`
	LoggedIn bool   `json:"logged_in"`
}

// Store persists the session in a cache backend. Tokens are encrypted when
// an encryptor is configured.
type Store struct {
	backend cache.Backend
	enc     *TokenEncryptor
	logger  *slog.Logger

	mu        sync.RWMutex
	listeners []func(Event)
}

// NewStore creates a store over b. enc may be nil.
func NewStore(b cache.Backend, enc *TokenEncryptor, logger *slog.Logger) *Store {
	return &Store{backend: cache.Lazy(b), enc: enc, logger: logger}
}

// Subscribe registers fn for change events.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Store) publish(ev Event) {
	s.mu.RLock()
	fns := append([]func(Event){}, s.listeners...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Save stores a login result.
func (s *Store) Save(ctx context.Context, sess mlclient.Session) error {
	if sess.AccessToken == "" {
		return errors.New("auth: login returned no access token")
	}
	if err := s.putToken(ctx, KeyAccessToken, sess.AccessToken); err != nil {
		return err
	}
	if err := s.putToken(ctx, KeyRefreshToken, sess.RefreshToken); err != nil {
		return err
	}
	user, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.backend.Put(ctx, KeyUser, user); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	s.logger.Info("session stored", "user", sess.User.Username)
	s.publish(Event{Key: KeyAccessToken, LoggedIn: true})
	return nil
}

// Clear removes the session. Missing keys are not an error.
func (s *Store) Clear(ctx context.Context) error {
	var errs []error
	for _, k := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := s.backend.Delete(ctx, k); err != nil && !errors.Is(err, cache.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.publish(Event{Key: KeyAccessToken, LoggedIn: false})
	return nil
}

// User returns the stored profile.
func (s *Store) User(ctx context.Context) (*mlclient.User, error) {
	data, err := s.backend.Get(ctx, KeyUser)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, err
	}
	var u mlclient.User
	if err := json.Unmarshal(data, &u); err != nil {
		s.logger.Warn("discarding unparsable stored user", "err", err)
		return nil, ErrNotLoggedIn
	}
	return &u, nil
}

// Tokens returns the stored access and refresh tokens.
func (s *Store) Tokens(ctx context.Context) (access, refresh string, err error) {
	access, err = s.getToken(ctx, KeyAccessToken)
	if err != nil {
		return "", "", err
	}
	refresh, err = s.getToken(ctx, KeyRefreshToken)
	if err != nil && !errors.Is(err, ErrNotLoggedIn) {
		return "", "", err
	}
	return access, refresh, nil
}

// Token implements oauth2.TokenSource so the ML client can attach the stored
// access token.
func (s *Store) Token() (*oauth2.Token, error) {
	access, refresh, err := s.Tokens(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: access, RefreshToken: refresh, TokenType: "Bearer"}, nil
}

func (s *Store) putToken(ctx context.Context, key, value string) error {
	if s.enc != nil && value != "" {
		sealed, err := s.enc.Encrypt(value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		value = sealed
	}
	if err := s.backend.Put(ctx, key, []byte(value)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (s *Store) getToken(ctx context.Context, key string) (string, error) {
	data, err := s.backend.Get(ctx, key)
	if errors.Is(err, cache.ErrNotFound) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", err
	}
	if s.enc == nil || len(data) == 0 {
		return string(data), nil
	}
	plain, err := s.enc.Decrypt(string(data))
	if err != nil {
		return "", fmt.Errorf("decrypt %s: %w", key, err)
	}
	return plain, nil
}
