package migrations

import "embed"

// Files 暴露执行日志所需的 SQL 迁移文件。
//
//go:embed *.sql
var Files embed.FS
