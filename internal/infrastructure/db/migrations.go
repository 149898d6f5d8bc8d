package db

import (
	"github.com/monihub/monihub/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Instance{},
		&domain.InstanceRecord{},
		&domain.Task{},
		&domain.TaskRecord{},
	)
}
