package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"SafeCircle/internal/models"
	"SafeCircle/pkg/credential"
	apperr "SafeCircle/pkg/errors"
	"SafeCircle/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const minPasswordLength = 8

// AuthService 注册、登录、刷新与登出
type AuthService struct {
	*base
	issuer *credential.Issuer
	opts   Options
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

// AuthResult 登录与注册的返回
type AuthResult struct {
	User         *models.User     `json:"user"`
	AccessToken  credential.Token `json:"accessToken"`
	RefreshToken credential.Token `json:"refreshToken"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	name := strings.TrimSpace(in.Name)
	if n := utf8.RuneCountInString(name); n < 2 || n > 50 {
		return nil, apperr.Validation("name must be between 2 and 50 characters")
	}
	email := models.NormalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, apperr.Validation("a valid email is required")
	}
	if len(in.Password) < minPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLength)
	}

	hash, err := credential.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Server(err)
	}
	now := s.now()
	u := models.NewUser(email, hash, name, strings.TrimSpace(in.Phone), now)

	var result *AuthResult
	err = s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return apperr.Server(err)
		}
		if count > 0 {
			return apperr.Validation("an account with this email already exists")
		}
		if err := tx.Create(u).Error; err != nil {
			return apperr.Server(err)
		}
		res, err := s.issue(u, false)
		if err != nil {
			return err
		}
		u.RegisterLogin(now)
		if err := save(tx, u, now); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info("user registered", zap.String("user", u.ID))
	return result, nil
}

// issue 签发一对令牌并记录刷新令牌 id
func (s *AuthService) issue(u *models.User, rememberMe bool) (*AuthResult, error) {
	access, err := s.issuer.IssueAccess(u.ID)
	if err != nil {
		return nil, apperr.Server(err)
	}
	refresh, err := s.issuer.IssueRefresh(u.ID, rememberMe)
	if err != nil {
		return nil, apperr.Server(err)
	}
	u.RefreshTokenID = refresh.ID
	return &AuthResult{User: u, AccessToken: access, RefreshToken: refresh}, nil
}

// Login 失败次数达到上限后锁定账户
func (s *AuthService) Login(ctx context.Context, email, password string, rememberMe bool) (*AuthResult, error) {
	var (
		result   *AuthResult
		loginErr error
	)
	err := s.transact(ctx, "user", func(tx *gorm.DB) error {
		loginErr = nil
		now := s.now()
		u, err := models.GetUserByEmail(tx, email)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			loginErr = apperr.Authentication("invalid email or password")
			return nil
		}
		if err != nil {
			return apperr.Server(err)
		}
		if u.IsLocked(now) {
			loginErr = apperr.Locked(*u.LockUntil)
			return nil
		}
		if !u.IsActive {
			loginErr = apperr.Authorization("account is deactivated")
			return nil
		}
		if !credential.CheckPassword(u.Password, password) {
			// 失败计数需要落库，因此在事务内返回 nil
			if u.RegisterFailedLogin(s.opts.MaxLoginAttempts, s.opts.LockDuration, now) {
				loginErr = apperr.Locked(*u.LockUntil)
				logger.Warn("account locked", zap.String("user", u.ID), zap.Time("until", *u.LockUntil))
			} else {
				loginErr = apperr.Authentication("invalid email or password")
			}
			return save(tx, u, now)
		}

		res, err := s.issue(u, rememberMe)
		if err != nil {
			return err
		}
		u.RegisterLogin(now)
		if err := save(tx, u, now); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	if loginErr != nil {
		return nil, loginErr
	}
	return result, nil
}

// Refresh 刷新令牌必须与用户当前记录的一致
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (credential.Token, error) {
	claims, err := s.issuer.Verify(refreshToken, credential.KindRefresh)
	if err != nil {
		return credential.Token{}, tokenError(err)
	}
	u, err := loadUser(s.conn(ctx), claims.Subject)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return credential.Token{}, apperr.Authentication("invalid refresh credential")
		}
		return credential.Token{}, err
	}
	if !u.IsActive {
		return credential.Token{}, apperr.Authorization("account is deactivated")
	}
	if u.RefreshTokenID == "" || u.RefreshTokenID != claims.ID {
		return credential.Token{}, apperr.Authentication("refresh credential has been revoked")
	}
	access, err := s.issuer.IssueAccess(u.ID)
	if err != nil {
		return credential.Token{}, apperr.Server(err)
	}
	return access, nil
}

// Logout 幂等，清除刷新令牌
func (s *AuthService) Logout(ctx context.Context, userID string) error {
	return s.transact(ctx, "user", func(tx *gorm.DB) error {
		u, err := loadUser(tx, userID)
		if err != nil {
			if apperr.IsCode(err, apperr.CodeNotFound) {
				return nil
			}
			return err
		}
		if u.RefreshTokenID == "" {
			return nil
		}
		u.RefreshTokenID = ""
		return save(tx, u, s.now())
	})
}

// Authenticate 校验访问令牌并返回活跃用户
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	if accessToken == "" {
		return nil, apperr.Authentication("missing credential")
	}
	claims, err := s.issuer.Verify(accessToken, credential.KindAccess)
	if err != nil {
		return nil, tokenError(err)
	}
	u, err := loadUser(s.conn(ctx), claims.Subject)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, apperr.Authentication("invalid credential")
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, apperr.Authorization("account is deactivated")
	}
	return u, nil
}

// Deactivate 软停用账户，并吊销刷新令牌
func (s *AuthService) Deactivate(ctx context.Context, userID string) error {
	return s.transact(ctx, "user", func(tx *gorm.DB) error {
		u, err := loadUser(tx, userID)
		if err != nil {
			return err
		}
		u.IsActive = false
		u.RefreshTokenID = ""
		return save(tx, u, s.now())
	})
}

func tokenError(err error) error {
	if errors.Is(err, credential.ErrExpiredToken) {
		return apperr.Authentication("credential has expired")
	}
	return apperr.Authentication("invalid credential")
}

