package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentMesh-Chain/internal/errors"
)

// MySQLStore 使用 MySQL 记录任务状态，版本检查在 UPDATE 语句中完成。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeValidation, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS tasks (
        id VARCHAR(64) PRIMARY KEY,
        title VARCHAR(255) NOT NULL,
        description TEXT,
        status VARCHAR(32) NOT NULL,
        created_by VARCHAR(64) DEFAULT '',
        assigned_to VARCHAR(64) DEFAULT '',
        result TEXT,
        version BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_tasks_status (status),
        INDEX idx_tasks_updated (updated_at)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 tasks 表失败")
	}
	return nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, task *Task) error {
	if task == nil {
		return xerrors.New(xerrors.CodeValidation, "task 不能为空")
	}
	if strings.TrimSpace(task.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	if task.CreatedAt == 0 {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	resultValue, err := marshalResult(task.Result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "编码任务结果失败")
	}

	const stmt = `INSERT INTO tasks
        (id, title, description, status, created_by, assigned_to, result, version, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		task.ID,
		task.Title,
		task.Description,
		task.Status,
		task.CreatedBy,
		task.AssignedTo,
		resultValue,
		task.Version,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrTaskConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入任务失败")
	}
	return nil
}

// Get 读取任务记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Task, error) {
	const stmt = `SELECT id, title, description, status, created_by, assigned_to, result, version, created_at, updated_at
        FROM tasks WHERE id = ?`
	row := s.db.QueryRowContext(ctx, stmt, id)
	return scanTask(row)
}

// Update 在版本匹配时覆盖任务并递增版本。
func (s *MySQLStore) Update(ctx context.Context, task *Task, expectedVersion int64) error {
	if task == nil {
		return xerrors.New(xerrors.CodeValidation, "task 不能为空")
	}
	resultValue, err := marshalResult(task.Result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeValidation, err, "编码任务结果失败")
	}
	const stmt = `UPDATE tasks
        SET title = ?, description = ?, status = ?, created_by = ?, assigned_to = ?, result = ?, version = ?, updated_at = ?
        WHERE id = ? AND version = ?`
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		task.Title,
		task.Description,
		task.Status,
		task.CreatedBy,
		task.AssignedTo,
		resultValue,
		expectedVersion+1,
		now,
		task.ID,
		expectedVersion,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新行数失败")
	}
	if affected == 0 {
		// 区分不存在与版本冲突。
		if _, getErr := s.Get(ctx, task.ID); getErr != nil {
			return getErr
		}
		return ErrTaskStale
	}
	task.Version = expectedVersion + 1
	task.UpdatedAt = now
	return nil
}

// List 按更新时间倒序返回最近的任务。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 20
	}
	const stmt = `SELECT id, title, description, status, created_by, assigned_to, result, version, created_at, updated_at
        FROM tasks ORDER BY updated_at DESC, id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	var results []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, task)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务列表失败")
	}
	return results, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var task Task
	var resultValue sql.NullString
	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.Status,
		&task.CreatedBy,
		&task.AssignedTo,
		&resultValue,
		&task.Version,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取任务失败")
	}
	if resultValue.Valid && resultValue.String != "" {
		var result Result
		if err := json.Unmarshal([]byte(resultValue.String), &result); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务结果失败")
		}
		task.Result = &result
	}
	return &task, nil
}

func marshalResult(result *Result) (any, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

var _ Store = (*MySQLStore)(nil)
