package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/keepsake/internal/common"
	"github.com/dmitrijs2005/keepsake/internal/cryptox"
	"github.com/google/uuid"
)

type KeepsakeType string

const (
	KeepsakeText            KeepsakeType = "text"
	KeepsakeLetter          KeepsakeType = "letter"
	KeepsakePhoto           KeepsakeType = "photo"
	KeepsakeVideo           KeepsakeType = "video"
	KeepsakeWish            KeepsakeType = "wish"
	KeepsakeScheduledAction KeepsakeType = "scheduled_action"
)

func (t KeepsakeType) Valid() bool {
	switch t {
	case KeepsakeText, KeepsakeLetter, KeepsakePhoto, KeepsakeVideo, KeepsakeWish, KeepsakeScheduledAction:
		return true
	}
	return false
}

// HasMedia reports whether the type carries an object-storage blob.
func (t KeepsakeType) HasMedia() bool {
	return t == KeepsakePhoto || t == KeepsakeVideo
}

type TriggerCondition string

const (
	TriggerOnDeath TriggerCondition = "on_death"
	TriggerOnDate  TriggerCondition = "on_date"
	TriggerManual  TriggerCondition = "manual"
)

func (t TriggerCondition) Valid() bool {
	return t == TriggerOnDeath || t == TriggerOnDate || t == TriggerManual
}

type KeepsakeStatus string

const (
	KeepsakeDraft     KeepsakeStatus = "draft"
	KeepsakeScheduled KeepsakeStatus = "scheduled"
	KeepsakeDelivered KeepsakeStatus = "delivered"
)

const MaxTitleLength = 255

// Keepsake is one unit of encrypted legacy content.
//
// Optional fields are nil when absent. Content is only ever held encrypted.
type Keepsake struct {
	ID              string
	VaultID         string
	Type            KeepsakeType
	Title           string
	Content         cryptox.EncryptedContent
	Trigger         TriggerCondition
	RevealDelayDays *int
	RevealDate      *time.Time
	ScheduledAt     *time.Time
	MediaKey        *string
	Status          KeepsakeStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// NewKeepsakeParams describes a keepsake to create. Status may be left
// empty (draft) or set to scheduled.
type NewKeepsakeParams struct {
	VaultID         string
	Type            KeepsakeType
	Title           string
	Content         string
	Key             []byte
	Trigger         TriggerCondition
	RevealDelayDays *int
	RevealDate      *time.Time
	ScheduledAt     *time.Time
	Status          KeepsakeStatus
}

// NewKeepsake validates p and encrypts its content under p.Key.
func NewKeepsake(p NewKeepsakeParams, now time.Time) (*Keepsake, error) {
	if p.VaultID == "" {
		return nil, fmt.Errorf("%w: vault id", common.ErrMissingID)
	}
	title, err := normalizeTitle(p.Title)
	if err != nil {
		return nil, err
	}
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidType, p.Type)
	}
	if !p.Trigger.Valid() {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidTrigger, p.Trigger)
	}
	if err := validateDelay(p.RevealDelayDays); err != nil {
		return nil, err
	}

	status := p.Status
	switch status {
	case "":
		status = KeepsakeDraft
	case KeepsakeDraft, KeepsakeScheduled:
	default:
		return nil, fmt.Errorf("%w: new keepsake must be draft or scheduled", common.ErrInvalidStateTransition)
	}

	content, err := cryptox.Encrypt(p.Content, p.Key)
	if err != nil {
		return nil, err
	}

	k := &Keepsake{
		ID:              uuid.NewString(),
		VaultID:         p.VaultID,
		Type:            p.Type,
		Title:           title,
		Content:         content,
		Trigger:         p.Trigger,
		RevealDelayDays: p.RevealDelayDays,
		RevealDate:      p.RevealDate,
		ScheduledAt:     p.ScheduledAt,
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if status == KeepsakeScheduled {
		if err := k.checkSchedulable(); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// KeepsakeUpdate lists the fields to change; nil means unchanged.
// Content and Key must be supplied together.
type KeepsakeUpdate struct {
	Title           *string
	Content         *string
	Key             []byte
	Trigger         *TriggerCondition
	RevealDelayDays *int
	RevealDate      *time.Time
	ScheduledAt     *time.Time
}

// Update applies u atomically: either every field changes or none does.
// Delivered keepsakes are immutable.
func (k *Keepsake) Update(u KeepsakeUpdate, now time.Time) error {
	if k.Status == KeepsakeDelivered {
		return common.ErrAlreadyDelivered
	}
	if (u.Content != nil) != (u.Key != nil) {
		return common.ErrPartialContentUpdate
	}

	title := k.Title
	if u.Title != nil {
		t, err := normalizeTitle(*u.Title)
		if err != nil {
			return err
		}
		title = t
	}
	if u.Trigger != nil && !u.Trigger.Valid() {
		return fmt.Errorf("%w: %q", common.ErrInvalidTrigger, *u.Trigger)
	}
	if err := validateDelay(u.RevealDelayDays); err != nil {
		return err
	}

	content := k.Content
	if u.Content != nil {
		c, err := cryptox.Encrypt(*u.Content, u.Key)
		if err != nil {
			return err
		}
		content = c
	}

	k.Title = title
	k.Content = content
	if u.Trigger != nil {
		k.Trigger = *u.Trigger
	}
	if u.RevealDelayDays != nil {
		k.RevealDelayDays = u.RevealDelayDays
	}
	if u.RevealDate != nil {
		k.RevealDate = u.RevealDate
	}
	if u.ScheduledAt != nil {
		k.ScheduledAt = u.ScheduledAt
	}
	k.UpdatedAt = now
	return nil
}

// Decrypt returns the plaintext content. A key other than the vault's
// derived key yields common.ErrDecryptionFailed.
func (k *Keepsake) Decrypt(key []byte) (string, error) {
	return cryptox.Decrypt(k.Content, key)
}

func (k *Keepsake) Schedule(now time.Time) error {
	if k.Status != KeepsakeDraft {
		return fmt.Errorf("%w: must be draft to schedule", common.ErrInvalidStateTransition)
	}
	if err := k.checkSchedulable(); err != nil {
		return err
	}
	k.Status = KeepsakeScheduled
	k.UpdatedAt = now
	return nil
}

func (k *Keepsake) Unschedule(now time.Time) error {
	if k.Status != KeepsakeScheduled {
		return fmt.Errorf("%w: must be scheduled to unschedule", common.ErrInvalidStateTransition)
	}
	k.Status = KeepsakeDraft
	k.UpdatedAt = now
	return nil
}

// Deliver moves a scheduled keepsake to delivered. Delivery is terminal.
func (k *Keepsake) Deliver(now time.Time) error {
	if k.Status != KeepsakeScheduled {
		return fmt.Errorf("%w: must be scheduled to deliver", common.ErrInvalidStateTransition)
	}
	k.Status = KeepsakeDelivered
	k.UpdatedAt = now
	return nil
}

// SoftDelete hides the keepsake from every query. Delivered keepsakes stay.
func (k *Keepsake) SoftDelete(now time.Time) error {
	if k.Status == KeepsakeDelivered {
		return common.ErrAlreadyDelivered
	}
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// RevealAt is the moment an on_date keepsake becomes due: the explicit
// schedule timestamp, or the reveal date, plus the reveal delay.
// It returns nil when neither timestamp is set.
func (k *Keepsake) RevealAt() *time.Time {
	var base *time.Time
	switch {
	case k.ScheduledAt != nil:
		base = k.ScheduledAt
	case k.RevealDate != nil:
		base = k.RevealDate
	default:
		return nil
	}
	at := *base
	if k.RevealDelayDays != nil {
		at = at.AddDate(0, 0, *k.RevealDelayDays)
	}
	return &at
}

// IsDue reports whether a scheduled on_date keepsake should be delivered.
func (k *Keepsake) IsDue(now time.Time) bool {
	if k.Status != KeepsakeScheduled || k.Trigger != TriggerOnDate || k.DeletedAt != nil {
		return false
	}
	at := k.RevealAt()
	return at != nil && !at.After(now)
}

func (k *Keepsake) checkSchedulable() error {
	if k.Trigger == TriggerOnDate && k.RevealAt() == nil {
		return fmt.Errorf("%w: on_date keepsake needs a reveal date or schedule", common.ErrInvalidTrigger)
	}
	return nil
}

func normalizeTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if n := utf8.RuneCountInString(t); n < 1 || n > MaxTitleLength {
		return "", common.ErrInvalidTitle
	}
	return t, nil
}

func validateDelay(days *int) error {
	if days != nil && *days < 0 {
		return fmt.Errorf("%w: reveal delay must be >= 0 days", common.ErrInvalidDelay)
	}
	return nil
}
