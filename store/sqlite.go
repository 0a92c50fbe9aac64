package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/verigate/session-cli/apiclient"
)

// credentialRecord is one row of the credentials table.
type credentialRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Profile      string `gorm:"uniqueIndex;not null"`
	AccessToken  string `gorm:"not null"`
	RefreshToken string `gorm:"not null"`
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

func (credentialRecord) TableName() string { return "credentials" }

// SQLite stores credentials in a SQLite database through GORM.
type SQLite struct {
	db      *gorm.DB
	profile string
}

var _ apiclient.CredentialStore = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path, profile string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger()})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewSQLite(db, profile)
}

// NewSQLite wraps an open database and migrates the credentials table.
func NewSQLite(db *gorm.DB, profile string) (*SQLite, error) {
	if db == nil {
		return nil, errors.New("database is not initialized")
	}
	if profile == "" {
		profile = DefaultProfile
	}
	if err := db.AutoMigrate(&credentialRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate credentials table: %w", err)
	}
	return &SQLite{db: db, profile: profile}, nil
}

// gormLogger keeps GORM quiet unless debug logging is enabled.
func gormLogger() logger.Interface {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		return logger.Default.LogMode(logger.Info)
	}
	return logger.Default.LogMode(logger.Silent)
}

func (s *SQLite) Get(ctx context.Context) (*apiclient.Credential, error) {
	var rec credentialRecord
	err := s.db.WithContext(ctx).First(&rec, "profile = ?", s.profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Str("profile", s.profile).Msg("Failed to read credentials")
		return nil, err
	}
	return &apiclient.Credential{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

func (s *SQLite) Set(ctx context.Context, cred apiclient.Credential) error {
	if err := cred.Validate(); err != nil {
		return err
	}

	rec := credentialRecord{
		Profile:      s.profile,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "profile"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"access_token", "refresh_token", "expires_at", "updated_at"},
		),
	}).Create(&rec).Error
}

func (s *SQLite) Clear(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("profile = ?", s.profile).
		Delete(&credentialRecord{}).Error
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get raw database connection: %w", err)
	}
	return sqlDB.Close()
}
