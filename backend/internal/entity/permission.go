package entity

import "time"

type DocumentPermission struct {
	DocumentID string    `gorm:"primaryKey;type:varchar(64)" json:"document_id"`
	UserID     string    `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Level      string    `gorm:"type:varchar(16);not null" json:"level"` // viewer / commenter / editor / admin / none
	GrantedBy  string    `gorm:"type:varchar(64)" json:"granted_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (DocumentPermission) TableName() string { return "document_permissions" }
