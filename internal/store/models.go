package store

import (
	"time"

	"github.com/google/uuid"
)

const CommandStatusPending = "PENDING"

type SmsRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ID        uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `gorm:"index" json:"device_id"`
}

func (SmsRecord) TableName() string { return "relay_sms_records" }

type FormRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ID        uuid.UUID `gorm:"type:uuid;uniqueIndex" json:"id"`
	DeviceID  string    `gorm:"index" json:"device_id"`
	Data      JSON      `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func (FormRecord) TableName() string { return "relay_form_records" }

// Command occupies the single mailbox slot of a device.
type Command struct {
	DeviceID  string    `gorm:"primaryKey" json:"device_id"`
	ID        uuid.UUID `gorm:"column:command_id;type:uuid" json:"id"`
	Type      string    `json:"type"`
	Data      JSON      `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
}

func (Command) TableName() string { return "relay_command_slots" }
