package models

import "gorm.io/gorm"

// AutoMigrate 建表与索引
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&User{}, &Circle{}, &CheckIn{}, &Alert{})
}
