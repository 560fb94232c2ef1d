package database

import "github.com/Grisenxx/divisionwebsite/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Application{},
		&models.SecurityViolation{},
		&models.BlockedIP{},
	}
}
