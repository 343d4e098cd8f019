package store

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"collabEngine/backend/internal/entity"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// AutoMigrate 建表：documents / document_versions / document_permissions
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&entity.Document{}, &entity.DocumentVersion{}, &entity.DocumentPermission{})
}
