package services

import (
	"context"
	"errors"
	"time"

	"flint/internal/crypto"
	apperrors "flint/internal/errors"
	"flint/internal/logger"
	"flint/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// credentialService implements CredentialServicer on gorm.
type credentialService struct {
	db  *gorm.DB
	enc *crypto.Encryptor
	now func() time.Time
}

// NewCredentialService creates a new CredentialServicer. Secrets are sealed
// with enc before they are written.
func NewCredentialService(db *gorm.DB, enc *crypto.Encryptor) CredentialServicer {
	return &credentialService{db: db, enc: enc, now: func() time.Time { return time.Now().UTC() }}
}

// GetCredential returns the decrypted registration or ErrCredentialNotFound.
func (s *credentialService) GetCredential(ctx context.Context, provider models.Provider, localUserID string) (*models.UserCredential, error) {
	var cred models.UserCredential
	err := s.db.WithContext(ctx).
		Where("local_user_id = ? AND provider = ?", localUserID, provider).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCredentialNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.open(&cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// EnsureCredential inserts the registration or overwrites the remote id and
// secret of an existing one. rotated_at is left untouched.
func (s *credentialService) EnsureCredential(ctx context.Context, provider models.Provider, localUserID, remoteUserID, secret string) (*models.UserCredential, error) {
	if localUserID == "" || remoteUserID == "" || secret == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "local user, remote user and secret are required")
	}
	sealed, err := s.enc.Encrypt(secret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	now := s.now()
	cred := &models.UserCredential{
		LocalUserID:      localUserID,
		Provider:         provider,
		RemoteUserID:     remoteUserID,
		SecretCiphertext: sealed,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "local_user_id"}, {Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"remote_user_id", "secret", "updated_at"}),
	}).Create(cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperrors.Wrap(apperrors.ErrCredentialConflict, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	logger.Get().Infow("provider credential stored",
		"user_id", localUserID,
		"provider", provider,
		"remote_user_id", remoteUserID,
		"secret", logger.Redact(secret),
	)
	return s.GetCredential(ctx, provider, localUserID)
}

// RotateCredential replaces the remote id and secret and stamps rotated_at.
func (s *credentialService) RotateCredential(ctx context.Context, provider models.Provider, localUserID, newRemoteUserID, newSecret string) (*models.UserCredential, error) {
	if newRemoteUserID == "" || newSecret == "" {
		return nil, apperrors.WithMessage(apperrors.ErrInvalidInput, "remote user and secret are required")
	}
	sealed, err := s.enc.Encrypt(newSecret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.UserCredential{}).
		Where("local_user_id = ? AND provider = ?", localUserID, provider).
		Updates(map[string]any{
			"remote_user_id": newRemoteUserID,
			"secret":         sealed,
			"rotated_at":     now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperrors.ErrCredentialNotFound
	}

	logger.Get().Infow("provider credential rotated",
		"user_id", localUserID,
		"provider", provider,
		"remote_user_id", newRemoteUserID,
		"secret", logger.Redact(newSecret),
	)
	return s.GetCredential(ctx, provider, localUserID)
}

// DeleteCredential removes the registration. Missing rows are not an error.
func (s *credentialService) DeleteCredential(ctx context.Context, provider models.Provider, localUserID string) error {
	err := s.db.WithContext(ctx).
		Where("local_user_id = ? AND provider = ?", localUserID, provider).
		Delete(&models.UserCredential{}).Error
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	return nil
}

// ListCredentials returns every decrypted registration for provider, or for
// all providers when provider is empty. Rows that fail to decrypt are skipped.
func (s *credentialService) ListCredentials(ctx context.Context, provider models.Provider) ([]models.UserCredential, error) {
	var creds []models.UserCredential
	q := s.db.WithContext(ctx).Order("local_user_id ASC")
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if err := q.Find(&creds).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	out := creds[:0]
	for i := range creds {
		if err := s.open(&creds[i]); err != nil {
			logger.Get().Errorw("skipping unreadable credential",
				"user_id", creds[i].LocalUserID,
				"provider", creds[i].Provider,
				"error", err,
			)
			continue
		}
		out = append(out, creds[i])
	}
	return out, nil
}

// FindByRemoteUser resolves the local owner of a remote user id.
func (s *credentialService) FindByRemoteUser(ctx context.Context, provider models.Provider, remoteUserID string) (*models.UserCredential, error) {
	var cred models.UserCredential
	err := s.db.WithContext(ctx).
		Where("provider = ? AND remote_user_id = ?", provider, remoteUserID).
		First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrCredentialNotFound
		}
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	if err := s.open(&cred); err != nil {
		return nil, err
	}
	return &cred, nil
}

// SetConnectionToken stores a per-connection access token (Teller enrollments).
func (s *credentialService) SetConnectionToken(ctx context.Context, connectionID, token string) error {
	sealed, err := s.enc.Encrypt(token)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	res := s.db.WithContext(ctx).Model(&models.Connection{}).
		Where("id = ?", connectionID).
		Update("access_token", sealed)
	if res.Error != nil {
		return apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrConnectionNotFound
	}
	return nil
}

// ConnectionToken returns the decrypted per-connection token, or "" if none is stored.
func (s *credentialService) ConnectionToken(ctx context.Context, connectionID string) (string, error) {
	var conn models.Connection
	err := s.db.WithContext(ctx).Select("id", "access_token").Where("id = ?", connectionID).First(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", apperrors.ErrConnectionNotFound
		}
		return "", apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	token, err := s.enc.Decrypt(conn.AccessTokenCiphertext)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrDecryptFailed, err)
	}
	return token, nil
}

func (s *credentialService) open(cred *models.UserCredential) error {
	secret, err := s.enc.Decrypt(cred.SecretCiphertext)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDecryptFailed, err)
	}
	cred.Secret = secret
	return nil
}
