package binding

import (
	"fmt"

	"gorm.io/gorm"
)

// Driver identifiers supported by the binding store.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Dependencies captures external handles required by certain drivers.
type Dependencies struct {
	SQLiteDB *gorm.DB
}

// New creates a binding store for driver.
func New(driver string, redisCfg *RedisConfig, deps Dependencies) (Store, error) {
	if driver == "" {
		driver = DriverSQLite
	}

	switch driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		if deps.SQLiteDB == nil {
			return nil, fmt.Errorf("sqlite driver requires database handle")
		}
		return NewGorm(deps.SQLiteDB)
	case DriverRedis:
		if redisCfg == nil {
			return nil, fmt.Errorf("redis driver requires redis configuration")
		}
		return NewRedis(*redisCfg)
	default:
		return nil, fmt.Errorf("unsupported binding store driver: %s", driver)
	}
}
