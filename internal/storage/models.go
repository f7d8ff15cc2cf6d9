package storage

import "time"

// CheckResult is one recorded check execution.
type CheckResult struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	CheckID    string    `gorm:"size:190;not null;index"`
	Status     string    `gorm:"size:32;not null"`
	Message    string    `gorm:"type:text"`
	Details    *string   `gorm:"type:text"` // JSON document, nil when the check returned none
	ExecutedAt time.Time `gorm:"not null;index"`
}

// ConnectionProfile describes how to reach a data store. The template may
// contain a {{PASSWORD}} placeholder filled from the secret named by
// SecretRef.
type ConnectionProfile struct {
	Name                     string  `gorm:"primaryKey;size:190"      json:"name"`
	Driver                   string  `gorm:"size:64;not null"         json:"driver"`
	ConnectionStringTemplate string  `gorm:"type:text;not null"       json:"connection_string_template"`
	ConnectionType           string  `gorm:"size:64;default:database" json:"connection_type"`
	SecretRef                *string `gorm:"size:190"                 json:"secret_ref,omitempty"`
}

// Secret is a stored credential. The API lists keys only.
type Secret struct {
	Key   string `gorm:"primaryKey;size:190"`
	Value string `gorm:"type:text;not null"`
}

// DataSource binds a connection profile to a secret. IsValid records
// whether both references existed when the source was last saved.
type DataSource struct {
	Name           string `gorm:"primaryKey;size:190" json:"name"`
	ConnectionName string `gorm:"size:190;not null"   json:"connection_name"`
	SecretKey      string `gorm:"size:190;not null"   json:"secret_key"`
	IsValid        bool   `gorm:"not null"            json:"is_valid"`
}

func autoMigrateModels() []any {
	return []any{&CheckResult{}, &ConnectionProfile{}, &Secret{}, &DataSource{}}
}
