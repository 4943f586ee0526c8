// ABOUTME: Record service implementing the botkeep operation contract
// ABOUTME: Validates input, runs store calls and builds the admin listing

package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/botkeep/internal/store"
)

// Service implements every record operation on top of a Store. It holds no
// state of its own besides the injected store handle.
type Service struct {
	store        store.Store
	now          func() time.Time
	logger       *slog.Logger
	defaultLimit int
	maxLimit     int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the clock used for completion checks and cleanup.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithListLimits sets the listing page size used when none is given and the
// largest page a caller may request. Non-positive values keep the defaults.
func WithListLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
	}
}

// NewService creates a record service backed by st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:        st,
		now:          time.Now,
		logger:       slog.Default(),
		defaultLimit: store.DefaultListLimit,
		maxLimit:     store.MaxListLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultLimit > s.maxLimit {
		s.defaultLimit = s.maxLimit
	}
	s.logger = s.logger.With("component", "records")
	return s
}

// ListItem is one row of the admin listing.
type ListItem struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Lang      string `json:"lang"`
	UpdatedAt string `json:"updated_at"`
	Step      string `json:"step"`
	Mode      string `json:"mode"`
	Completed bool   `json:"completed"`
}

// ListResult is a page of the admin listing. Total is len(Users)+offset,
// an estimate rather than a count of all users.
type ListResult struct {
	Total int        `json:"total"`
	Users []ListItem `json:"users"`
}

// ListUsers returns a page of users, most recently updated first, joined with
// their session and completion.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) (*ListResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}
	if offset < 0 {
		offset = 0
	}

	ids, err := s.store.ListUserIDs(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	now := s.now()
	items := make([]ListItem, 0, len(ids))
	for _, id := range ids {
		item, err := s.listItem(ctx, id, now)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return &ListResult{Total: len(items) + offset, Users: items}, nil
}

// listItem joins one user with its session and completion. A row that
// disappears between the id scan and the lookup renders as empty fields.
func (s *Service) listItem(ctx context.Context, id string, now time.Time) (ListItem, error) {
	item := ListItem{ID: id, Step: Placeholder, Mode: Placeholder}

	user, err := s.store.GetUser(ctx, id)
	switch {
	case err == nil:
		item.Username = user.Username
		item.FirstName = user.FirstName
		item.LastName = user.LastName
		item.Lang = user.Lang
		item.UpdatedAt = listTimestamp(user.UpdatedAt)
	case !errors.Is(err, store.ErrNotFound):
		return item, fmt.Errorf("listing user %s: %w", id, err)
	}

	sess, err := s.store.GetSession(ctx, id)
	switch {
	case err == nil:
		item.Step = stepOf(sess.Data)
		item.Mode = modeOf(sess.Data)
	case !errors.Is(err, store.ErrNotFound):
		return item, fmt.Errorf("listing session %s: %w", id, err)
	}

	comp, err := s.store.GetCompletion(ctx, id)
	switch {
	case err == nil:
		item.Completed = completed(comp, now)
	case !errors.Is(err, store.ErrNotFound):
		return item, fmt.Errorf("listing completion %s: %w", id, err)
	}

	return item, nil
}

// UpsertUser creates or overwrites a user. The id is required and stored
// exactly as given, so later lookups must use the same string.
func (s *Service) UpsertUser(ctx context.Context, in UserInput) (*store.User, error) {
	id := string(in.ID)
	if id == "" {
		return nil, invalid("id", "id required")
	}

	user := &store.User{
		ID:        id,
		Username:  in.Username,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Lang:      in.Lang,
	}
	if err := s.store.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return user, nil
}

// GetUser returns a user or store.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (*store.User, error) {
	if id == "" {
		return nil, invalid("id", "id required")
	}
	return s.store.GetUser(ctx, id)
}

// GetSession returns a user's session or store.ErrNotFound.
func (s *Service) GetSession(ctx context.Context, userID string) (*store.Session, error) {
	if userID == "" {
		return nil, invalid("id", "id required")
	}
	return s.store.GetSession(ctx, userID)
}

// PutSession replaces a user's session. Missing data is stored as "{}".
func (s *Service) PutSession(ctx context.Context, userID string, in SessionInput) error {
	if userID == "" {
		return invalid("id", "id required")
	}
	data, err := in.sessionData()
	if err != nil {
		return err
	}
	if err := s.store.SetSession(ctx, userID, data, deadline(in.ExpiresAt)); err != nil {
		return fmt.Errorf("putting session: %w", err)
	}
	return nil
}

// DeleteSession removes a user's session. Removing a missing session succeeds.
func (s *Service) DeleteSession(ctx context.Context, userID string) error {
	if userID == "" {
		return invalid("id", "id required")
	}
	if _, err := s.store.DeleteSession(ctx, userID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// GetCompletion returns a user's completion marker or store.ErrNotFound.
func (s *Service) GetCompletion(ctx context.Context, userID string) (*store.Completion, error) {
	if userID == "" {
		return nil, invalid("id", "id required")
	}
	return s.store.GetCompletion(ctx, userID)
}

// PutCompletion replaces a user's completion marker.
func (s *Service) PutCompletion(ctx context.Context, userID string, in CompletionInput) error {
	if userID == "" {
		return invalid("id", "id required")
	}
	if err := s.store.SetCompletion(ctx, userID, deadline(in.ExpiresAt)); err != nil {
		return fmt.Errorf("putting completion: %w", err)
	}
	return nil
}

// DeleteCompletion removes a user's completion marker.
func (s *Service) DeleteCompletion(ctx context.Context, userID string) error {
	if userID == "" {
		return invalid("id", "id required")
	}
	if _, err := s.store.DeleteCompletion(ctx, userID); err != nil {
		return fmt.Errorf("deleting completion: %w", err)
	}
	return nil
}

// PurgeAll deletes every record when confirmation is exactly ConfirmPhrase.
// Without it nothing is touched.
func (s *Service) PurgeAll(ctx context.Context, confirmation string) (store.PurgeResult, error) {
	if confirmation != ConfirmPhrase {
		s.logger.Warn("purge refused without confirmation")
		return store.PurgeResult{}, invalid("confirm", "Set confirm=ERASE to purge")
	}
	res, err := s.store.PurgeAll(ctx)
	if err != nil {
		return res, fmt.Errorf("purging: %w", err)
	}
	return res, nil
}

// CleanupExpired removes sessions and completions whose deadline is before
// now. A zero now uses the service clock.
func (s *Service) CleanupExpired(ctx context.Context, now time.Time) (store.CleanupResult, error) {
	if now.IsZero() {
		now = s.now()
	}
	res, err := s.store.CleanupExpired(ctx, now)
	if err != nil {
		return res, fmt.Errorf("cleaning up expired records: %w", err)
	}
	s.logger.Info("expired records removed",
		"sessions", res.Sessions,
		"completions", res.Completions,
		"cutoff_ms", now.UnixMilli(),
	)
	return res, nil
}

// HealthCheck verifies the store is reachable.
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	return nil
}

// CountUsers returns the exact number of stored users.
func (s *Service) CountUsers(ctx context.Context) (int, error) {
	n, err := s.store.CountUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}
