package entity

import "time"

type Document struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Type      string    `gorm:"type:varchar(32)" json:"type"` // proposal / capture_plan / grant ...
	OwnerID   string    `gorm:"type:varchar(64)" json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (Document) TableName() string { return "documents" }
