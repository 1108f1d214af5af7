// Package migrations 内嵌的数据库迁移脚本（goose）
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
