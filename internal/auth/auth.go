package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/globalchat/backend/internal/db"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUpload             = errors.New("profile picture upload failed")
)

// UserStore is the persistence the auth service needs.
type UserStore interface {
	Create(ctx context.Context, user *db.User) error
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	Update(ctx context.Context, id uuid.UUID, patch db.UserPatch, now time.Time) (*db.User, error)
}

// PictureStore uploads profile pictures and returns their public URL.
type PictureStore interface {
	UploadProfilePicture(ctx context.Context, filename, contentType string, body io.Reader, size int64) (string, error)
}

// ProfileCache is notified when a user's public profile changes.
type ProfileCache interface {
	InvalidateSenderProfile(ctx context.Context, id uuid.UUID) error
}

// PublicUser is the projection of a user that is safe to return to clients.
type PublicUser struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	ProfilePicture *string   `json:"profilePicture"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func NewPublicUser(u *db.User) *PublicUser {
	return &PublicUser{
		ID:             u.ID.String(),
		Name:           u.Name,
		Email:          u.Email,
		ProfilePicture: u.ProfilePicture,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

type LoginResult struct {
	Token string
	User  *db.User
}

// PictureUpload is an image received with an edit-profile request.
type PictureUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// ProfilePatch holds the fields the client asked to change. Nil means absent.
type ProfilePatch struct {
	Name     *string
	Email    *string
	Password *string
	Picture  *PictureUpload
}

type ServiceConfig struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

type Service struct {
	users    UserStore
	pictures PictureStore
	profiles ProfileCache
	cfg      ServiceConfig
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService wires the auth service. profiles may be nil when no cache runs.
func NewService(users UserStore, pictures PictureStore, profiles ProfileCache, cfg ServiceConfig) *Service {
	return &Service{
		users:    users,
		pictures: pictures,
		profiles: profiles,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Secret returns the signing secret, empty when unconfigured.
func (s *Service) Secret() []byte {
	return []byte(s.cfg.Secret)
}

func (s *Service) Register(ctx context.Context, name, email, password string) (*db.User, error) {
	passwordHash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &db.User{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	return user, nil
}

// Login checks credentials and issues a session token. Unknown emails and
// wrong passwords both return ErrInvalidCredentials after a bcrypt compare.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			bcrypt.CompareHashAndPassword(s.dummyPasswordHash(), []byte(password))
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := IssueToken(SessionClaims{UserID: user.ID.String(), Name: user.Name}, s.Secret(), s.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, User: user}, nil
}

func (s *Service) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *Service) dummyPasswordHash() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(uuid.NewString()), s.cfg.BcryptCost)
	})
	return s.dummyHash
}

// EditProfile applies patch to the user. The picture is uploaded before
// anything is written; an upload failure leaves the stored user untouched.
// The returned bool is false when nothing changed.
func (s *Service) EditProfile(ctx context.Context, userID uuid.UUID, patch ProfilePatch) (*db.User, bool, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	var update db.UserPatch
	if patch.Name != nil && *patch.Name != user.Name {
		update.Name = patch.Name
	}
	if patch.Email != nil && *patch.Email != user.Email {
		update.Email = patch.Email
	}
	if patch.Password != nil {
		hash, err := s.hashPassword(*patch.Password)
		if err != nil {
			return nil, false, err
		}
		update.PasswordHash = &hash
	}

	// A taken email fails here rather than after the upload. A concurrent
	// claim can still win between this check and Update.
	if update.Email != nil {
		owner, err := s.users.GetByEmail(ctx, *update.Email)
		switch {
		case err == nil && owner.ID != userID:
			return nil, false, db.ErrEmailExists
		case err != nil && !errors.Is(err, db.ErrUserNotFound):
			return nil, false, err
		}
	}

	if patch.Picture != nil {
		url, err := s.pictures.UploadProfilePicture(ctx, patch.Picture.Filename, patch.Picture.ContentType, patch.Picture.Body, patch.Picture.Size)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrUpload, err)
		}
		update.ProfilePicture = &url
	}

	if update.Empty() {
		return user, false, nil
	}

	updated, err := s.users.Update(ctx, userID, update, s.now().UTC())
	if err != nil {
		return nil, false, err
	}

	if s.profiles != nil && (update.Name != nil || update.ProfilePicture != nil) {
		// Cached entries expire on their own if invalidation fails.
		_ = s.profiles.InvalidateSenderProfile(ctx, userID)
	}

	return updated, true, nil
}
