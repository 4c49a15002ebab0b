package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ProcessMCP/internal/config"
)

// memoryCapacity 为内存仓库保留的最近记录条数。
const memoryCapacity = 512

// ExecutionRecord 表示一次编译执行的落库结构。
type ExecutionRecord struct {
	ID         string         `json:"id"`
	TargetID   string         `json:"target_id"`
	Request    string         `json:"request"`
	Approach   string         `json:"approach"`
	Action     string         `json:"action,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	RiskLevel  string         `json:"risk_level,omitempty"`
	Success    bool           `json:"success"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  int64          `json:"created_at"`
}

// Repository 抽象执行记录的持久化接口。
type Repository interface {
	Save(ctx context.Context, record ExecutionRecord) error
	ListLatest(ctx context.Context, limit int) ([]ExecutionRecord, error)
}

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = errors.New("暂不支持的存储驱动")

// Open 根据配置创建执行日志仓库。memory 驱动写入 dataDir 下的 JSONL 文件。
func Open(ctx context.Context, cfg config.ExecutionLogConfig, dataDir string) (Repository, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryRepository(dataDir)
	case "mysql":
		return NewSQLRepository(ctx, Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetime) * time.Second,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, cfg.Driver)
	}
}

// MemoryRepository 使用本地 JSONL 文件记录执行结果，内存中保留最近的记录。
type MemoryRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []ExecutionRecord
}

// NewMemoryRepository 创建文件仓库并恢复历史记录。
func NewMemoryRepository(dataDir string) (*MemoryRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	repo := &MemoryRepository{dataFile: filepath.Join(dataDir, "executions.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save 以追加写的方式记录执行结果。
func (m *MemoryRepository) Save(_ context.Context, record ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开执行日志失败: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化执行记录失败: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("写入执行日志失败: %w", err)
	}

	m.records = append([]ExecutionRecord{record}, m.records...)
	if len(m.records) > memoryCapacity {
		m.records = m.records[:memoryCapacity]
	}
	return nil
}

// ListLatest 返回最近的执行记录，按时间倒序排列。
func (m *MemoryRepository) ListLatest(_ context.Context, limit int) ([]ExecutionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]ExecutionRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("读取执行日志失败: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var restored []ExecutionRecord
	for scanner.Scan() {
		var record ExecutionRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		restored = append([]ExecutionRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("解析执行日志失败: %w", err)
	}

	if len(restored) > memoryCapacity {
		restored = restored[:memoryCapacity]
	}
	if len(restored) > 0 {
		m.records = restored
	}
	return nil
}

// SQLRepository 使用 MySQL 存储执行记录。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 创建连接池并执行迁移。
func NewSQLRepository(ctx context.Context, cfg Config) (*SQLRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo, err := NewSQLRepositoryWithDB(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepositoryWithDB 基于已有连接创建仓库，并执行迁移。
func NewSQLRepositoryWithDB(ctx context.Context, db *sql.DB) (*SQLRepository, error) {
	if db == nil {
		return nil, errors.New("数据库连接不能为空")
	}
	if err := newMigrator(db).Run(ctx); err != nil {
		return nil, err
	}
	return &SQLRepository{db: db}, nil
}

const insertExecution = `INSERT INTO execution_log
        (id, target_id, request, approach, action, parameters, strategy, risk_level, success, error_kind, error, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const selectExecutions = `SELECT id, target_id, request, approach, action, parameters, strategy, risk_level, success, error_kind, error, created_at
        FROM execution_log ORDER BY created_at DESC LIMIT ?`

// Save 将执行记录写入 MySQL。
func (s *SQLRepository) Save(ctx context.Context, record ExecutionRecord) error {
	params := "{}"
	if len(record.Parameters) > 0 {
		encoded, err := json.Marshal(record.Parameters)
		if err != nil {
			return fmt.Errorf("序列化执行参数失败: %w", err)
		}
		params = string(encoded)
	}

	if _, err := s.db.ExecContext(ctx, insertExecution,
		record.ID,
		record.TargetID,
		record.Request,
		record.Approach,
		record.Action,
		params,
		record.Strategy,
		record.RiskLevel,
		record.Success,
		record.ErrorKind,
		record.Error,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条执行记录。
func (s *SQLRepository) ListLatest(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, selectExecutions, limit)
	if err != nil {
		return nil, fmt.Errorf("查询执行记录失败: %w", err)
	}
	defer rows.Close()

	var records []ExecutionRecord
	for rows.Next() {
		var (
			record ExecutionRecord
			params string
		)
		if err := rows.Scan(&record.ID, &record.TargetID, &record.Request, &record.Approach, &record.Action,
			&params, &record.Strategy, &record.RiskLevel, &record.Success, &record.ErrorKind, &record.Error, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析执行记录失败: %w", err)
		}
		if params != "" && params != "{}" {
			if err := json.Unmarshal([]byte(params), &record.Parameters); err != nil {
				return nil, fmt.Errorf("解析执行参数失败: %w", err)
			}
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历执行记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ Repository = (*MemoryRepository)(nil)
	_ Repository = (*SQLRepository)(nil)
)
