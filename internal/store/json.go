package store

import (
	"database/sql/driver"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSON is an opaque JSON payload column, JSONB on Postgres and TEXT on SQLite.
// SQLite gives JSON/JSONB declared columns numeric affinity, which would
// store a scalar payload such as 42 as an INTEGER that cannot scan back.
type JSON datatypes.JSON

func (j JSON) Value() (driver.Value, error) { return datatypes.JSON(j).Value() }

func (j *JSON) Scan(v any) error {
	if v == nil {
		*j = nil
		return nil
	}
	return (*datatypes.JSON)(j).Scan(v)
}

func (j JSON) MarshalJSON() ([]byte, error) { return datatypes.JSON(j).MarshalJSON() }

func (j *JSON) UnmarshalJSON(b []byte) error { return (*datatypes.JSON)(j).UnmarshalJSON(b) }

func (j JSON) String() string { return string(j) }

func (JSON) GormDataType() string { return "json" }

func (JSON) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	switch db.Dialector.Name() {
	case "postgres":
		return "JSONB"
	case "sqlite":
		return "TEXT"
	}
	return "JSON"
}
