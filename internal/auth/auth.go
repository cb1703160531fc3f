// Package auth implements campus-restricted sign-up, password sign-in and
// signed session tokens, and notifies listeners on sign-in and sign-out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	TokenID   string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Session is returned on successful sign-up or sign-in.
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expires_at"`
	User      *models.Profile `json:"user"`
}

// ChangeKind enumerates auth-state transitions.
type ChangeKind string

const (
	SignedIn  ChangeKind = "SIGNED_IN"
	SignedOut ChangeKind = "SIGNED_OUT"
)

// StateChange is passed to OnChange listeners.
type StateChange struct {
	Kind   ChangeKind
	UserID string
}

// SignUpInput holds the sign-up form.
type SignUpInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// ProfileUpdate holds editable profile fields. Nil fields are left as is.
type ProfileUpdate struct {
	FullName  *string `json:"full_name"`
	Phone     *string `json:"phone"`
	AvatarURL *string `json:"avatar_url"`
}

// Service is the identity provider.
type Service struct {
	db      *gorm.DB
	secret  []byte
	ttl     time.Duration
	revoker Revoker
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.RWMutex
	listeners map[int]func(StateChange)
	nextID    int
}

// Opts holds parameters for NewService.
type Opts struct {
	DB       *gorm.DB
	Secret   string
	TokenTTL time.Duration
	Revoker  Revoker // default in-memory
	Logger   zerolog.Logger
	Now      func() time.Time
}

// NewService validates opts and returns a Service.
func NewService(opts Opts) (*Service, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("auth: db is required")
	}
	if opts.Secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 7 * 24 * time.Hour
	}
	if opts.Revoker == nil {
		opts.Revoker = NewMemRevoker()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		db:        opts.DB,
		secret:    []byte(opts.Secret),
		ttl:       opts.TokenTTL,
		revoker:   opts.Revoker,
		log:       opts.Logger,
		now:       opts.Now,
		listeners: make(map[int]func(StateChange)),
	}, nil
}

// ValidatePassword enforces at least 8 characters with a digit and an
// uppercase letter.
func ValidatePassword(pw string) error {
	var digit, upper bool
	for _, r := range pw {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsUpper(r):
			upper = true
		}
	}
	switch {
	case len(pw) < 8:
		return apperr.Invalid("password must be at least 8 characters")
	case !digit:
		return apperr.Invalid("password must contain a number")
	case !upper:
		return apperr.Invalid("password must contain an uppercase letter")
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", apperr.Invalid("email is invalid")
	}
	return strings.ToLower(addr.Address), nil
}

// collegeFor finds the active college whose email domain matches email,
// including subdomains.
func (s *Service) collegeFor(ctx context.Context, email string) (*models.College, error) {
	domain := email[strings.LastIndex(email, "@")+1:]
	var colleges []models.College
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&colleges).Error; err != nil {
		return nil, fmt.Errorf("auth: load colleges: %w", err)
	}
	for i := range colleges {
		d := colleges[i].EmailDomain
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return &colleges[i], nil
		}
	}
	return nil, nil
}

// SignUp registers a student. The email must belong to an active college.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*Session, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return nil, apperr.Invalid("full name is required")
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	college, err := s.collegeFor(ctx, email)
	if err != nil {
		return nil, err
	}
	if college == nil {
		return nil, apperr.Invalid("use your college email address to sign up")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash password: %w", err)
	}

	profile := models.Profile{
		Email:        email,
		FullName:     name,
		CollegeID:    &college.ID,
		CollegeEmail: &email,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Profile{}).Where("email = ?", email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.New(apperr.ErrConflict, "this email is already registered")
		}
		if err := tx.Create(&profile).Error; err != nil {
			return err
		}
		return tx.Create(&models.Credential{UserID: profile.ID, PasswordHash: string(hash)}).Error
	})
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, fmt.Errorf("auth: sign up: %w", err)
	}
	profile.College = college
	s.log.Info().Str("user", profile.ID).Str("college", college.Slug).Msg("signed up")
	return s.issue(&profile)
}

// SignIn checks credentials and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, apperr.New(apperr.ErrUnauthorized, "invalid email or password")
	}
	var profile models.Profile
	if err := s.db.WithContext(ctx).Preload("College").Where("email = ?", addr).First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ErrUnauthorized, "invalid email or password")
		}
		return nil, fmt.Errorf("auth: sign in: %w", err)
	}
	var cred models.Credential
	if err := s.db.WithContext(ctx).Where("user_id = ?", profile.ID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.ErrUnauthorized, "invalid email or password")
		}
		return nil, fmt.Errorf("auth: sign in: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)) != nil {
		return nil, apperr.New(apperr.ErrUnauthorized, "invalid email or password")
	}
	return s.issue(&profile)
}

func (s *Service) issue(profile *models.Profile) (*Session, error) {
	token, claims, err := signToken(s.secret, profile.ID, profile.Email, s.now(), s.ttl)
	if err != nil {
		return nil, err
	}
	s.notify(StateChange{Kind: SignedIn, UserID: profile.ID})
	return &Session{Token: token, ExpiresAt: claims.ExpiresAt.Time, User: profile}, nil
}

// Current resolves a token to the identity it was issued for.
func (s *Service) Current(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, apperr.ErrUnauthorized
	}
	claims, err := parseToken(s.secret, token, s.now())
	if err != nil {
		return nil, fmt.Errorf("auth: %w: %v", apperr.ErrUnauthorized, err)
	}
	revoked, err := s.revoker.Revoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("auth: %w: session signed out", apperr.ErrUnauthorized)
	}
	return &Identity{
		UserID:    claims.UserID,
		Email:     claims.Email,
		TokenID:   claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// SignOut revokes token. Signing out an invalid token is a no-op.
func (s *Service) SignOut(ctx context.Context, token string) error {
	id, err := s.Current(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			return nil
		}
		return err
	}
	if err := s.revoker.Revoke(ctx, id.TokenID, id.ExpiresAt.Sub(s.now())); err != nil {
		return err
	}
	s.notify(StateChange{Kind: SignedOut, UserID: id.UserID})
	return nil
}

// OnChange registers fn for auth-state changes and returns a function that
// unregisters it.
func (s *Service) OnChange(fn func(StateChange)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) notify(c StateChange) {
	s.mu.RLock()
	fns := make([]func(StateChange), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Profile loads a profile with its college.
func (s *Service) Profile(ctx context.Context, userID string) (*models.Profile, error) {
	var p models.Profile
	if err := s.db.WithContext(ctx).Preload("College").Where("id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("profile not found")
		}
		return nil, fmt.Errorf("auth: profile %s: %w", userID, err)
	}
	return &p, nil
}

// RefreshProfile reloads a profile, logging failures and returning nil
// instead of an error.
func (s *Service) RefreshProfile(ctx context.Context, userID string) *models.Profile {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		if !apperr.IsTransient(err) {
			s.log.Error().Err(err).Str("user", userID).Msg("error fetching profile")
		}
		return nil
	}
	return p
}

// UpdateProfile applies the non-nil fields of u.
func (s *Service) UpdateProfile(ctx context.Context, userID string, u ProfileUpdate) (*models.Profile, error) {
	updates := map[string]interface{}{}
	if u.FullName != nil {
		name := strings.TrimSpace(*u.FullName)
		if name == "" {
			return nil, apperr.Invalid("full name is required")
		}
		updates["full_name"] = name
	}
	if u.Phone != nil {
		updates["phone"] = strings.TrimSpace(*u.Phone)
	}
	if u.AvatarURL != nil {
		updates["avatar_url"] = *u.AvatarURL
	}
	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", userID).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("auth: update profile: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperr.NotFound("profile not found")
		}
	}
	return s.Profile(ctx, userID)
}
