package entity

import "time"

// DocumentVersion 一条不可变的文档快照；只追加，不修改
type DocumentVersion struct {
	ID           string    `gorm:"primaryKey;type:char(26)" json:"version_id"`
	DocumentID   string    `gorm:"type:varchar(64);not null;index:idx_versions_doc,priority:1" json:"document_id"`
	Content      string    `gorm:"type:longtext" json:"content"`
	AuthorID     string    `gorm:"type:varchar(64)" json:"author_id"`
	AuthorName   string    `gorm:"type:varchar(128)" json:"author_name"`
	Note         string    `gorm:"type:varchar(512)" json:"note"`
	Draft        bool      `gorm:"default:false" json:"draft"`                   // 自动保存产生
	RestoredFrom string    `gorm:"type:char(26)" json:"restored_from,omitempty"` // rollback 的来源版本
	CreatedAt    time.Time `gorm:"index:idx_versions_doc,priority:2" json:"created_at"`
}

func (DocumentVersion) TableName() string { return "document_versions" }
