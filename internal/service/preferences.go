package service

import (
	"context"
	"errors"
	"time"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

type PreferencesRequest struct {
	Timezone      *string         `json:"timezone"`
	Theme         *string         `json:"theme" binding:"omitempty,oneof=light dark system"`
	Notifications map[string]bool `json:"notifications"`
}

type PreferenceService struct {
	store PreferenceStore
	now   func() time.Time
}

func NewPreferenceService(store PreferenceStore) *PreferenceService {
	return &PreferenceService{store: store, now: time.Now}
}

func defaultPreferences(userID string) *model.Preferences {
	return &model.Preferences{
		UserID:        userID,
		Timezone:      "UTC",
		Theme:         "system",
		Notifications: map[string]bool{},
	}
}

// Get returns stored preferences or the defaults for a user who never
// saved any.
func (s *PreferenceService) Get(ctx context.Context, user *model.UserPrincipal) (*model.Preferences, error) {
	prefs, err := s.store.GetPreferences(ctx, user.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return defaultPreferences(user.ID), nil
	}
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return prefs, nil
}

func (s *PreferenceService) Update(ctx context.Context, user *model.UserPrincipal, req PreferencesRequest) (*model.Preferences, error) {
	prefs, err := s.Get(ctx, user)
	if err != nil {
		return nil, err
	}
	if req.Timezone != nil {
		if !validTimezone(*req.Timezone) {
			return nil, errInvalidTimezone()
		}
		prefs.Timezone = *req.Timezone
	}
	if req.Theme != nil {
		prefs.Theme = *req.Theme
	}
	if prefs.Notifications == nil {
		prefs.Notifications = map[string]bool{}
	}
	for k, v := range req.Notifications {
		prefs.Notifications[k] = v
	}
	prefs.UpdatedAt = s.now().UTC()
	if err := s.store.SavePreferences(ctx, prefs); err != nil {
		return nil, apperrors.FromStore(err)
	}
	return prefs, nil
}
