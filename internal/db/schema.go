package db

import "gorm.io/gorm"

func EnsureSchema(d *gorm.DB, schema string) error {
	return d.Exec(`CREATE SCHEMA IF NOT EXISTS "` + schema + `"`).Error
}

// EnsurePostGIS enables the postgis extension. Containment matching and the
// spatial indexes depend on it, so feature Init() calls this before
// migrating.
func EnsurePostGIS(d *gorm.DB) error {
	return d.Exec(`CREATE EXTENSION IF NOT EXISTS "postgis"`).Error
}
