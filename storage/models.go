package storage

import (
	"time"

	"gorm.io/gorm"
)

// TriggerKind tells which end of the message a trigger matches against.
type TriggerKind string

const (
	TriggerPrefix TriggerKind = "prefix"
	TriggerSuffix TriggerKind = "suffix"
)

// System represents one shared chat account and the members posting through it
type System struct {
	gorm.Model
	Name             string
	OwnerID          int64 `gorm:"uniqueIndex"`
	Credential       string
	SwitchOnTrigger  bool
	FrontingMemberID *uint
	FrontingMember   *Member  `gorm:"foreignKey:FrontingMemberID"`
	Members          []Member `gorm:"foreignKey:SystemID;constraint:OnDelete:CASCADE"`
}

// Member represents one identity within a system
type Member struct {
	gorm.Model
	SystemID          uint `gorm:"index"`
	FullName          string
	DisplayName       string
	AvatarURL         string
	Title             string
	Pronouns          string
	NamePronunciation string
	NameRecordingURL  string
	Enabled           bool      `gorm:"default:true"`
	Aliases           []Alias   `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
	Triggers          []Trigger `gorm:"foreignKey:MemberID;constraint:OnDelete:CASCADE"`
}

// Alias, Trigger and MessageLog delete for real (no DeletedAt): a
// soft-deleted row would keep occupying the unique index and block
// re-creating the same alias, trigger or message id later.

// Alias represents an alternative short name for a member,
// unique within its system and within its member
type Alias struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	SystemID  uint   `gorm:"uniqueIndex:idx_system_alias"`
	MemberID  uint   `gorm:"uniqueIndex:idx_member_alias"`
	Alias     string `gorm:"uniqueIndex:idx_system_alias;uniqueIndex:idx_member_alias"`
}

// Trigger represents a prefix or suffix phrase that attributes a message to a member.
// SystemID always equals the member's SystemID.
type Trigger struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	SystemID  uint        `gorm:"uniqueIndex:idx_system_trigger"`
	MemberID  uint        `gorm:"index"`
	Member    Member      `gorm:"foreignKey:MemberID;references:ID"`
	Text      string      `gorm:"uniqueIndex:idx_system_trigger"`
	Kind      TriggerKind `gorm:"uniqueIndex:idx_system_trigger"`
}

// MessageLog binds an externally visible message to the member that owns it.
// Text keeps the proxied content so a reproxy can re-send it: the platform
// offers no way to read a message back by id.
type MessageLog struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time
	UpdatedAt time.Time
	MessageID string `gorm:"uniqueIndex"`
	MemberID  uint   `gorm:"index"`
	Member    Member `gorm:"foreignKey:MemberID;references:ID"`
	Text      string
}
