package pkg

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// NewDB 连接事务日志所在的 mysql
func NewDB(dsn string, opts ...gorm.Option) (*gorm.DB, error) {
	return gorm.Open(mysql.Open(dsn), opts...)
}
