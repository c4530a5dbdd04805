package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrInvalid       = errors.New("invariant violation")
)

type Storage struct {
	db *gorm.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		slog.Error("storage: Failed to connect to database", "error", err, "path", dbPath)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Storage) migrate() error {
	err := s.db.AutoMigrate(&System{}, &Member{}, &Alias{}, &Trigger{}, &MessageLog{})
	if err != nil {
		slog.Error("storage: Failed to migrate database", "error", err)
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}

// FindOrCreateSystem returns the system owned by the given account,
// creating it on first registration
func (s *Storage) FindOrCreateSystem(ownerID int64, name string) (*System, error) {
	var system System
	result := s.db.Where("owner_id = ?", ownerID).First(&system)
	if result.Error == nil {
		return &system, nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		slog.Error("storage: Failed to get system", "error", result.Error, "owner_id", ownerID)
		return nil, fmt.Errorf("failed to get system: %w", result.Error)
	}

	system = System{
		Name:    name,
		OwnerID: ownerID,
	}
	result = s.db.Create(&system)
	if result.Error != nil {
		slog.Error("storage: Failed to create system", "error", result.Error, "owner_id", ownerID)
		return nil, fmt.Errorf("failed to create system: %w", result.Error)
	}

	slog.Info("storage: System created", "system_id", system.ID, "owner_id", ownerID)
	return &system, nil
}

// System retrieves a system with its fronting member preloaded
func (s *Storage) System(systemID uint) (*System, error) {
	var system System
	result := s.db.Preload("FrontingMember").First(&system, systemID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		slog.Error("storage: Failed to get system", "error", result.Error, "system_id", systemID)
		return nil, fmt.Errorf("failed to get system: %w", result.Error)
	}
	return &system, nil
}

// SystemByOwner retrieves a system by its owning account identifier
func (s *Storage) SystemByOwner(ownerID int64) (*System, error) {
	var system System
	result := s.db.Where("owner_id = ?", ownerID).First(&system)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		slog.Error("storage: Failed to get system", "error", result.Error, "owner_id", ownerID)
		return nil, fmt.Errorf("failed to get system: %w", result.Error)
	}
	return &system, nil
}

// RenameSystem changes a system's display name
func (s *Storage) RenameSystem(systemID uint, name string) error {
	result := s.db.Model(&System{}).Where("id = ?", systemID).Update("name", name)
	if result.Error != nil {
		slog.Error("storage: Failed to rename system", "error", result.Error, "system_id", systemID)
		return fmt.Errorf("failed to rename system: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetCredential stores the opaque chat credential used by the transport
func (s *Storage) SetCredential(systemID uint, credential string) error {
	result := s.db.Model(&System{}).Where("id = ?", systemID).Update("credential", credential)
	if result.Error != nil {
		slog.Error("storage: Failed to set credential", "error", result.Error, "system_id", systemID)
		return fmt.Errorf("failed to set credential: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSwitchOnTrigger toggles whether a trigger match changes the fronting member
func (s *Storage) SetSwitchOnTrigger(systemID uint, on bool) error {
	result := s.db.Model(&System{}).Where("id = ?", systemID).Update("switch_on_trigger", on)
	if result.Error != nil {
		slog.Error("storage: Failed to set switch-on-trigger", "error", result.Error, "system_id", systemID)
		return fmt.Errorf("failed to set switch-on-trigger: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateMember adds a new enabled member to a system
func (s *Storage) CreateMember(systemID uint, member *Member) error {
	member.SystemID = systemID
	member.Enabled = true

	result := s.db.Create(member)
	if result.Error != nil {
		slog.Error("storage: Failed to create member", "error", result.Error,
			"system_id", systemID, "display_name", member.DisplayName)
		return fmt.Errorf("failed to create member: %w", result.Error)
	}
	return nil
}

// Member retrieves a member scoped to a system
func (s *Storage) Member(systemID, memberID uint) (*Member, error) {
	var member Member
	result := s.db.Where("system_id = ? AND id = ?", systemID, memberID).First(&member)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		slog.Error("storage: Failed to get member", "error", result.Error,
			"system_id", systemID, "member_id", memberID)
		return nil, fmt.Errorf("failed to get member: %w", result.Error)
	}
	return &member, nil
}

// Members retrieves all members of a system
func (s *Storage) Members(systemID uint) ([]Member, error) {
	var members []Member
	result := s.db.Where("system_id = ?", systemID).Find(&members)
	if result.Error != nil {
		slog.Error("storage: Failed to get members", "error", result.Error, "system_id", systemID)
		return nil, fmt.Errorf("failed to get members: %w", result.Error)
	}
	return members, nil
}

// UpdateMember updates a member's profile fields. The member's system
// cannot change, so triggers scoped to it stay consistent.
func (s *Storage) UpdateMember(systemID uint, member *Member) error {
	result := s.db.Model(&Member{}).
		Where("system_id = ? AND id = ?", systemID, member.ID).
		Select("full_name", "display_name", "avatar_url", "title",
			"pronouns", "name_pronunciation", "name_recording_url").
		Updates(member)
	if result.Error != nil {
		slog.Error("storage: Failed to update member", "error", result.Error,
			"system_id", systemID, "member_id", member.ID)
		return fmt.Errorf("failed to update member: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MemberByAlias finds a member of a system by exact alias match
func (s *Storage) MemberByAlias(systemID uint, alias string) (*Member, error) {
	var row Alias
	result := s.db.Where("system_id = ? AND alias = ?", systemID, alias).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		slog.Error("storage: Failed to look up alias", "error", result.Error,
			"system_id", systemID, "alias", alias)
		return nil, fmt.Errorf("failed to look up alias: %w", result.Error)
	}
	return s.Member(systemID, row.MemberID)
}

// SetMemberEnabled enables or disables a member. Disabling the currently
// fronting member clears the system's front in the same transaction.
func (s *Storage) SetMemberEnabled(systemID, memberID uint, enabled bool) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Member{}).
			Where("system_id = ? AND id = ?", systemID, memberID).
			Update("enabled", enabled)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}

		if !enabled {
			result = tx.Model(&System{}).
				Where("id = ? AND fronting_member_id = ?", systemID, memberID).
				Update("fronting_member_id", nil)
			if result.Error != nil {
				return result.Error
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		slog.Error("storage: Failed to set member enabled", "error", err,
			"system_id", systemID, "member_id", memberID, "enabled", enabled)
		return fmt.Errorf("failed to set member enabled: %w", err)
	}
	return nil
}

// DeleteMember removes a member together with its aliases, triggers and
// message log rows
func (s *Storage) DeleteMember(systemID, memberID uint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&System{}).
			Where("id = ? AND fronting_member_id = ?", systemID, memberID).
			Update("fronting_member_id", nil)
		if result.Error != nil {
			return result.Error
		}

		if err := tx.Where("system_id = ? AND member_id = ?", systemID, memberID).Delete(&Alias{}).Error; err != nil {
			return err
		}
		if err := tx.Where("system_id = ? AND member_id = ?", systemID, memberID).Delete(&Trigger{}).Error; err != nil {
			return err
		}
		if err := tx.Where("member_id = ?", memberID).Delete(&MessageLog{}).Error; err != nil {
			return err
		}

		result = tx.Where("system_id = ? AND id = ?", systemID, memberID).Delete(&Member{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		slog.Error("storage: Failed to delete member", "error", err,
			"system_id", systemID, "member_id", memberID)
		return fmt.Errorf("failed to delete member: %w", err)
	}
	return nil
}

// SetFront makes a member the system's fronting member. The member must
// belong to the system and be enabled; otherwise the state is unchanged.
func (s *Storage) SetFront(systemID, memberID uint) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		return setFront(tx, systemID, memberID)
	})
	if err != nil {
		if errors.Is(err, ErrInvalid) {
			return err
		}
		slog.Error("storage: Failed to set fronting member", "error", err,
			"system_id", systemID, "member_id", memberID)
		return fmt.Errorf("failed to set fronting member: %w", err)
	}
	return nil
}

func setFront(tx *gorm.DB, systemID, memberID uint) error {
	var member Member
	result := tx.Where("system_id = ? AND id = ?", systemID, memberID).First(&member)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: member %d does not belong to system %d", ErrInvalid, memberID, systemID)
	}
	if result.Error != nil {
		return result.Error
	}
	if !member.Enabled {
		return fmt.Errorf("%w: member %d is disabled and cannot front", ErrInvalid, memberID)
	}

	return tx.Model(&System{}).Where("id = ?", systemID).
		Update("fronting_member_id", memberID).Error
}

// ClearFront removes the system's fronting member
func (s *Storage) ClearFront(systemID uint) error {
	result := s.db.Model(&System{}).Where("id = ?", systemID).Update("fronting_member_id", nil)
	if result.Error != nil {
		slog.Error("storage: Failed to clear fronting member", "error", result.Error, "system_id", systemID)
		return fmt.Errorf("failed to clear fronting member: %w", result.Error)
	}
	return nil
}

// Front returns the system's fronting member, or nil when none is set
func (s *Storage) Front(systemID uint) (*Member, error) {
	var system System
	result := s.db.Preload("FrontingMember").First(&system, systemID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		slog.Error("storage: Failed to get fronting member", "error", result.Error, "system_id", systemID)
		return nil, fmt.Errorf("failed to get fronting member: %w", result.Error)
	}
	return system.FrontingMember, nil
}

// CreateAlias attaches an alias to a member of the system
func (s *Storage) CreateAlias(systemID, memberID uint, alias string) error {
	if _, err := s.Member(systemID, memberID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: member %d does not belong to system %d", ErrInvalid, memberID, systemID)
		}
		return err
	}

	var count int64
	result := s.db.Model(&Alias{}).Where("system_id = ? AND alias = ?", systemID, alias).Count(&count)
	if result.Error != nil {
		slog.Error("storage: Failed to check alias", "error", result.Error,
			"system_id", systemID, "alias", alias)
		return fmt.Errorf("failed to check alias: %w", result.Error)
	}
	if count > 0 {
		return ErrAlreadyExists
	}

	row := Alias{
		SystemID: systemID,
		MemberID: memberID,
		Alias:    alias,
	}
	result = s.db.Create(&row)
	if result.Error != nil {
		slog.Error("storage: Failed to create alias", "error", result.Error,
			"system_id", systemID, "member_id", memberID, "alias", alias)
		return fmt.Errorf("failed to create alias: %w", result.Error)
	}
	return nil
}

// DeleteAlias removes an alias from a system
func (s *Storage) DeleteAlias(systemID uint, alias string) error {
	result := s.db.Where("system_id = ? AND alias = ?", systemID, alias).Delete(&Alias{})
	if result.Error != nil {
		slog.Error("storage: Failed to delete alias", "error", result.Error,
			"system_id", systemID, "alias", alias)
		return fmt.Errorf("failed to delete alias: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Aliases retrieves all aliases of a member
func (s *Storage) Aliases(systemID, memberID uint) ([]Alias, error) {
	var aliases []Alias
	result := s.db.Where("system_id = ? AND member_id = ?", systemID, memberID).Find(&aliases)
	if result.Error != nil {
		slog.Error("storage: Failed to get aliases", "error", result.Error,
			"system_id", systemID, "member_id", memberID)
		return nil, fmt.Errorf("failed to get aliases: %w", result.Error)
	}
	return aliases, nil
}

// CreateTrigger binds a new trigger phrase to a member of the system
func (s *Storage) CreateTrigger(systemID, memberID uint, text string, kind TriggerKind) (*Trigger, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: trigger text cannot be empty", ErrInvalid)
	}
	if kind != TriggerPrefix && kind != TriggerSuffix {
		return nil, fmt.Errorf("%w: unknown trigger kind %q", ErrInvalid, kind)
	}
	if _, err := s.Member(systemID, memberID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: member %d does not belong to system %d", ErrInvalid, memberID, systemID)
		}
		return nil, err
	}

	var count int64
	result := s.db.Model(&Trigger{}).
		Where("system_id = ? AND text = ? AND kind = ?", systemID, text, kind).
		Count(&count)
	if result.Error != nil {
		slog.Error("storage: Failed to check trigger", "error", result.Error,
			"system_id", systemID, "text", text)
		return nil, fmt.Errorf("failed to check trigger: %w", result.Error)
	}
	if count > 0 {
		return nil, ErrAlreadyExists
	}

	trigger := Trigger{
		SystemID: systemID,
		MemberID: memberID,
		Text:     text,
		Kind:     kind,
	}
	result = s.db.Create(&trigger)
	if result.Error != nil {
		slog.Error("storage: Failed to create trigger", "error", result.Error,
			"system_id", systemID, "member_id", memberID, "text", text)
		return nil, fmt.Errorf("failed to create trigger: %w", result.Error)
	}
	return &trigger, nil
}

// UpdateTrigger changes a trigger's text or kind
func (s *Storage) UpdateTrigger(systemID, triggerID uint, text string, kind TriggerKind) error {
	if text == "" {
		return fmt.Errorf("%w: trigger text cannot be empty", ErrInvalid)
	}
	if kind != TriggerPrefix && kind != TriggerSuffix {
		return fmt.Errorf("%w: unknown trigger kind %q", ErrInvalid, kind)
	}

	var count int64
	countResult := s.db.Model(&Trigger{}).
		Where("system_id = ? AND text = ? AND kind = ? AND id <> ?", systemID, text, kind, triggerID).
		Count(&count)
	if countResult.Error != nil {
		slog.Error("storage: Failed to check trigger", "error", countResult.Error,
			"system_id", systemID, "text", text)
		return fmt.Errorf("failed to check trigger: %w", countResult.Error)
	}
	if count > 0 {
		return ErrAlreadyExists
	}

	result := s.db.Model(&Trigger{}).
		Where("system_id = ? AND id = ?", systemID, triggerID).
		Updates(map[string]any{"text": text, "kind": kind})
	if result.Error != nil {
		slog.Error("storage: Failed to update trigger", "error", result.Error,
			"system_id", systemID, "trigger_id", triggerID)
		return fmt.Errorf("failed to update trigger: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTrigger removes a trigger from a system
func (s *Storage) DeleteTrigger(systemID, triggerID uint) error {
	result := s.db.Where("system_id = ? AND id = ?", systemID, triggerID).Delete(&Trigger{})
	if result.Error != nil {
		slog.Error("storage: Failed to delete trigger", "error", result.Error,
			"system_id", systemID, "trigger_id", triggerID)
		return fmt.Errorf("failed to delete trigger: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Triggers retrieves all triggers of a system with their members,
// longest text first so more specific triggers match before shorter ones
func (s *Storage) Triggers(systemID uint) ([]Trigger, error) {
	var triggers []Trigger
	result := s.db.Preload("Member").
		Where("system_id = ?", systemID).
		Order("length(text) DESC, id ASC").
		Find(&triggers)
	if result.Error != nil {
		slog.Error("storage: Failed to get triggers", "error", result.Error, "system_id", systemID)
		return nil, fmt.Errorf("failed to get triggers: %w", result.Error)
	}
	return triggers, nil
}

// LogMessage records which member an externally visible message was posted as.
// A duplicate message id indicates a coordinator bug or a replayed event and fails.
func (s *Storage) LogMessage(messageID string, memberID uint, text string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return logMessage(tx, messageID, memberID, text)
	})
}

func logMessage(tx *gorm.DB, messageID string, memberID uint, text string) error {
	var count int64
	result := tx.Model(&MessageLog{}).Where("message_id = ?", messageID).Count(&count)
	if result.Error != nil {
		slog.Error("storage: Failed to check message log", "error", result.Error, "message_id", messageID)
		return fmt.Errorf("failed to check message log: %w", result.Error)
	}
	if count > 0 {
		return ErrAlreadyExists
	}

	row := MessageLog{
		MessageID: messageID,
		MemberID:  memberID,
		Text:      text,
	}
	result = tx.Create(&row)
	if result.Error != nil {
		slog.Error("storage: Failed to log message", "error", result.Error,
			"message_id", messageID, "member_id", memberID)
		return fmt.Errorf("failed to log message: %w", result.Error)
	}
	return nil
}

// MessageByID retrieves a message log row with its owning member
func (s *Storage) MessageByID(messageID string) (*MessageLog, error) {
	var row MessageLog
	result := s.db.Preload("Member").Where("message_id = ?", messageID).First(&row)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		slog.Error("storage: Failed to get message log", "error", result.Error, "message_id", messageID)
		return nil, fmt.Errorf("failed to get message log: %w", result.Error)
	}
	return &row, nil
}

// RelogMessage rewrites a message log row after a reproxy: the external
// message was deleted and recreated, so both the id and the member change
func (s *Storage) RelogMessage(oldMessageID, newMessageID string, memberID uint) error {
	result := s.db.Model(&MessageLog{}).
		Where("message_id = ?", oldMessageID).
		Updates(map[string]any{"message_id": newMessageID, "member_id": memberID})
	if result.Error != nil {
		slog.Error("storage: Failed to relog message", "error", result.Error,
			"old_message_id", oldMessageID, "new_message_id", newMessageID)
		return fmt.Errorf("failed to relog message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMessageText stores the new content of an edited proxy message.
// Ownership never changes on an edit, so the member reference stays put.
func (s *Storage) UpdateMessageText(messageID, text string) error {
	result := s.db.Model(&MessageLog{}).
		Where("message_id = ?", messageID).
		Update("text", text)
	if result.Error != nil {
		slog.Error("storage: Failed to update message text", "error", result.Error, "message_id", messageID)
		return fmt.Errorf("failed to update message text: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ForgetMessage removes a message log row
func (s *Storage) ForgetMessage(messageID string) error {
	result := s.db.Where("message_id = ?", messageID).Delete(&MessageLog{})
	if result.Error != nil {
		slog.Error("storage: Failed to forget message", "error", result.Error, "message_id", messageID)
		return fmt.Errorf("failed to forget message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyProxyResult records the outcome of a confirmed proxy send: the
// message log insert and the optional front switch land in one transaction
func (s *Storage) ApplyProxyResult(systemID, memberID uint, messageID, text string, switchFront bool) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if switchFront {
			if err := setFront(tx, systemID, memberID); err != nil {
				return err
			}
		}
		return logMessage(tx, messageID, memberID, text)
	})
}
