package mysql

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"ProcessMCP/deploy/migrations"
)

// migration 是一个带版本号的执行日志表结构变更。
type migration struct {
	version    string
	name       string
	checksum   string
	statements []string
}

// migrator 将内嵌的 SQL 文件按版本应用到执行日志库。
// 已应用版本的内容被改动时拒绝启动，避免各实例表结构不一致。
type migrator struct {
	db    *sql.DB
	files fs.FS
}

func newMigrator(db *sql.DB) *migrator {
	return &migrator{db: db, files: migrations.Files}
}

const createSchemaMigrations = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        name VARCHAR(255) NOT NULL DEFAULT '',
        checksum CHAR(64) NOT NULL DEFAULT '',
        applied_at BIGINT NOT NULL
)`

// Run 应用尚未执行的迁移。
func (m *migrator) Run(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, createSchemaMigrations); err != nil {
		return fmt.Errorf("创建 schema_migrations 表失败: %w", err)
	}
	pending, err := m.load()
	if err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}
	for _, mg := range pending {
		sum, ok := applied[mg.version]
		if !ok {
			if err := m.apply(ctx, mg); err != nil {
				return err
			}
			continue
		}
		if sum != "" && sum != mg.checksum {
			return fmt.Errorf("迁移 %s 在应用后被修改 (记录 %s, 当前 %s)", mg.name, shortSum(sum), shortSum(mg.checksum))
		}
	}
	return nil
}

// applied 返回已应用版本及其校验和。
func (m *migrator) applied(ctx context.Context) (map[string]string, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("查询 schema_migrations 失败: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var version, checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, fmt.Errorf("解析 schema_migrations 失败: %w", err)
		}
		out[version] = checksum
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历 schema_migrations 失败: %w", err)
	}
	return out, nil
}

func (m *migrator) apply(ctx context.Context, mg migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	for _, stmt := range mg.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("执行迁移 %s 失败: %w", mg.name, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, name, checksum, applied_at) VALUES (?, ?, ?, ?)`,
		mg.version, mg.name, mg.checksum, time.Now().Unix()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("记录迁移版本失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移事务失败: %w", err)
	}
	return nil
}

// load 读取并排序全部 .sql 文件，重复的版本号视为错误。
func (m *migrator) load() ([]migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("读取迁移目录失败: %w", err)
	}
	seen := make(map[string]string)
	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		name := entry.Name()
		content, err := fs.ReadFile(m.files, name)
		if err != nil {
			return nil, fmt.Errorf("读取迁移文件 %s 失败: %w", name, err)
		}
		statements := splitStatements(string(content))
		if len(statements) == 0 {
			continue
		}
		version := migrationVersion(name)
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("迁移 %s 与 %s 版本号重复", name, prev)
		}
		seen[version] = name
		sum := sha256.Sum256(content)
		out = append(out, migration{
			version:    version,
			name:       name,
			checksum:   hex.EncodeToString(sum[:]),
			statements: statements,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// splitStatements 按分号切分语句，忽略以 -- 开头的注释行。
func splitStatements(content string) []string {
	var (
		statements []string
		current    strings.Builder
	)
	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for {
			idx := strings.IndexByte(line, ';')
			if idx < 0 {
				break
			}
			current.WriteString(line[:idx])
			flush()
			line = line[idx+1:]
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	flush()
	return statements
}

func migrationVersion(name string) string {
	if idx := strings.IndexRune(name, '_'); idx > 0 {
		return name[:idx]
	}
	return strings.TrimSuffix(name, path.Ext(name))
}

func shortSum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
