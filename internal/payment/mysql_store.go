package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentMesh-Chain/internal/errors"
	"AgentMesh-Chain/internal/ledger"
	"AgentMesh-Chain/internal/money"
)

// MySQLStore 使用 MySQL 记录支付状态，状态守卫在 UPDATE 语句中完成。
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
	const schema = `CREATE TABLE IF NOT EXISTS payments (
        id VARCHAR(64) PRIMARY KEY,
        task_id VARCHAR(64) NOT NULL,
        payer VARCHAR(128) NOT NULL,
        payee VARCHAR(128) NOT NULL,
        amount VARCHAR(64) NOT NULL,
        currency VARCHAR(16) NOT NULL,
        status VARCHAR(32) NOT NULL,
        authorization_handle VARCHAR(128) DEFAULT '',
        settlement_receipt TEXT,
        metadata TEXT,
        created_at BIGINT NOT NULL,
        completed_at BIGINT NOT NULL DEFAULT 0,
        INDEX idx_payments_task (task_id),
        INDEX idx_payments_status (status)
)`
	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 payments 表失败")
	}
	return nil
}

// Create 插入新的支付记录。
func (s *MySQLStore) Create(ctx context.Context, p *Payment) error {
	if p == nil {
		return xerrors.New(xerrors.CodeValidation, "payment 不能为空")
	}
	if strings.TrimSpace(p.ID) == "" {
		return xerrors.New(xerrors.CodeValidation, "支付 ID 不能为空")
	}
	if p.CreatedAt == 0 {
		p.CreatedAt = time.Now().Unix()
	}
	receiptValue, metadataValue, err := marshalExtras(p)
	if err != nil {
		return err
	}
	const stmt = `INSERT INTO payments
        (id, task_id, payer, payee, amount, currency, status, authorization_handle, settlement_receipt, metadata, created_at, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, stmt,
		p.ID, p.TaskID, p.Payer, p.Payee, p.Amount.String(), p.Currency, p.Status,
		p.AuthorizationHandle, receiptValue, metadataValue, p.CreatedAt, p.CompletedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrPaymentConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入支付失败")
	}
	return nil
}

// Get 读取支付记录。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Payment, error) {
	const stmt = `SELECT id, task_id, payer, payee, amount, currency, status, authorization_handle, settlement_receipt, metadata, created_at, completed_at
        FROM payments WHERE id = ?`
	return scanPayment(s.db.QueryRowContext(ctx, stmt, id))
}

// Update 在状态匹配且未达终态时覆盖支付记录。
func (s *MySQLStore) Update(ctx context.Context, p *Payment, expectedStatus Status) error {
	if p == nil {
		return xerrors.New(xerrors.CodeValidation, "payment 不能为空")
	}
	receiptValue, metadataValue, err := marshalExtras(p)
	if err != nil {
		return err
	}
	const stmt = `UPDATE payments
        SET status = ?, authorization_handle = ?, settlement_receipt = ?, metadata = ?, completed_at = ?
        WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, stmt,
		p.Status, p.AuthorizationHandle, receiptValue, metadataValue, p.CompletedAt,
		p.ID, expectedStatus,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新支付失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新行数失败")
	}
	if affected == 0 {
		stored, getErr := s.Get(ctx, p.ID)
		if getErr != nil {
			return getErr
		}
		if IsTerminal(stored.Status) {
			return ErrPaymentTransition
		}
		return ErrPaymentConflict
	}
	return nil
}

// ListByStatus 返回处于指定状态的支付。
func (s *MySQLStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	const stmt = `SELECT id, task_id, payer, payee, amount, currency, status, authorization_handle, settlement_receipt, metadata, created_at, completed_at
        FROM payments WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, stmt, status, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付列表失败")
	}
	defer rows.Close()

	var results []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付列表失败")
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

func scanPayment(row rowScanner) (*Payment, error) {
	var p Payment
	var amountText string
	var receiptValue, metadataValue sql.NullString
	err := row.Scan(
		&p.ID, &p.TaskID, &p.Payer, &p.Payee, &amountText, &p.Currency, &p.Status,
		&p.AuthorizationHandle, &receiptValue, &metadataValue, &p.CreatedAt, &p.CompletedAt,
	)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取支付失败")
	}
	amount, err := money.Parse(amountText)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付金额失败")
	}
	p.Amount = amount
	if receiptValue.Valid && receiptValue.String != "" {
		var receipt ledger.Receipt
		if err := json.Unmarshal([]byte(receiptValue.String), &receipt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析结算回执失败")
		}
		p.SettlementReceipt = &receipt
	}
	if metadataValue.Valid && metadataValue.String != "" {
		if err := json.Unmarshal([]byte(metadataValue.String), &p.Metadata); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付 metadata 失败")
		}
	}
	return &p, nil
}

func marshalExtras(p *Payment) (any, any, error) {
	var receiptValue any
	if p.SettlementReceipt != nil {
		data, err := json.Marshal(p.SettlementReceipt)
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeValidation, err, "编码结算回执失败")
		}
		receiptValue = string(data)
	}
	var metadataValue any
	if len(p.Metadata) > 0 {
		data, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, nil, xerrors.Wrap(xerrors.CodeValidation, err, "编码支付 metadata 失败")
		}
		metadataValue = string(data)
	}
	return receiptValue, metadataValue, nil
}

var _ Store = (*MySQLStore)(nil)
