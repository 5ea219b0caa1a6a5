package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// saleRow is the flat sales table row; variant columns are nullable
type saleRow struct {
	ID              int64           `db:"id"`
	Kind            string          `db:"kind"`
	TransactionCode string          `db:"transaction_code"`
	GrandTotal      decimal.Decimal `db:"grand_total"`
	Status          string          `db:"status"`
	FirstName       sql.NullString  `db:"first_name"`
	LastName        sql.NullString  `db:"last_name"`
	PhoneNumber     sql.NullString  `db:"phone_number"`
	EmailAddress    sql.NullString  `db:"email_address"`
	DeliveryOption  sql.NullString  `db:"delivery_option"`
	DeliveryAddress sql.NullString  `db:"delivery_address"`
	PaymentMethod   string          `db:"payment_method"`
	OperatorID      sql.NullString  `db:"operator_id"`
	Notes           string          `db:"notes"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

const saleColumns = `id, kind, transaction_code, grand_total, status, first_name, last_name,
	phone_number, email_address, delivery_option, delivery_address, payment_method,
	operator_id, notes, created_at, updated_at`

func (r *saleRow) toModel() *models.Sale {
	sale := &models.Sale{
		ID:              r.ID,
		Kind:            models.SaleKind(r.Kind),
		TransactionCode: r.TransactionCode,
		GrandTotal:      r.GrandTotal,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if sale.Kind == models.SaleKindCashier {
		sale.Cashier = &models.CashierDetails{
			OperatorID:    r.OperatorID.String,
			PaymentMethod: r.PaymentMethod,
			Notes:         r.Notes,
		}
		return sale
	}
	sale.Order = &models.OrderDetails{
		FirstName:       r.FirstName.String,
		LastName:        r.LastName.String,
		PhoneNumber:     r.PhoneNumber.String,
		EmailAddress:    r.EmailAddress.String,
		DeliveryOption:  models.DeliveryMode(r.DeliveryOption.String),
		DeliveryAddress: r.DeliveryAddress.String,
		PaymentMethod:   r.PaymentMethod,
		Notes:           r.Notes,
	}
	return sale
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// GetSaleByID retrieves a sale and its lines
func (s *Store) GetSaleByID(ctx context.Context, id int64) (*models.Sale, error) {
	return getSale(ctx, s.db, id, false)
}

// InsertSale inserts the header and its lines. A taken transaction code is
// reported as ErrDuplicateTransactionCode without aborting the transaction.
func (u *unitOfWork) InsertSale(ctx context.Context, sale *models.Sale) error {
	var (
		firstName, lastName, phone, email, option, address, operatorID sql.NullString
		payment, notes                                                 string
	)
	switch {
	case sale.Order != nil:
		o := sale.Order
		firstName, lastName = nullString(o.FirstName), nullString(o.LastName)
		phone, email = nullString(o.PhoneNumber), nullString(o.EmailAddress)
		option, address = nullString(string(o.DeliveryOption)), nullString(o.DeliveryAddress)
		payment, notes = o.PaymentMethod, o.Notes
	case sale.Cashier != nil:
		c := sale.Cashier
		operatorID = nullString(c.OperatorID)
		payment, notes = c.PaymentMethod, c.Notes
	}

	query := `
		INSERT INTO sales (kind, transaction_code, grand_total, status, first_name, last_name,
			phone_number, email_address, delivery_option, delivery_address, payment_method,
			operator_id, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (transaction_code) DO NOTHING
		RETURNING id, updated_at`

	err := u.tx.QueryRowxContext(ctx, query,
		string(sale.Kind), sale.TransactionCode, sale.GrandTotal, sale.Status,
		firstName, lastName, phone, email, option, address, payment, operatorID, notes,
		sale.CreatedAt).Scan(&sale.ID, &sale.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrDuplicateTransactionCode
	}
	if err != nil {
		return classifyError(fmt.Errorf("failed to insert sale: %w", err))
	}

	for i := range sale.Lines {
		line := &sale.Lines[i]
		line.SaleID = sale.ID
		err := u.tx.QueryRowxContext(ctx, `
			INSERT INTO sale_lines (sale_id, position, product_id, quantity, unit_price, line_total)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			line.SaleID, line.Position, line.ProductID, line.Quantity, line.UnitPrice, line.LineTotal,
		).Scan(&line.ID)
		if err != nil {
			return classifyError(fmt.Errorf("failed to insert sale line %d: %w", line.Position, err))
		}
	}
	return nil
}

// LockSaleForUpdate locks the sale header row and loads its lines
func (u *unitOfWork) LockSaleForUpdate(ctx context.Context, id int64) (*models.Sale, error) {
	sale, err := getSale(ctx, u.tx, id, true)
	if err != nil {
		return nil, classifyError(err)
	}
	return sale, nil
}

// UpdateSaleStatus overwrites the status of a sale
func (u *unitOfWork) UpdateSaleStatus(ctx context.Context, id int64, status string) error {
	res, err := u.tx.ExecContext(ctx,
		"UPDATE sales SET status = $1, updated_at = NOW() WHERE id = $2", status, id)
	if err != nil {
		return classifyError(fmt.Errorf("failed to update sale status: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sale %d: %w", id, ErrNotFound)
	}
	return nil
}

func getSale(ctx context.Context, q sqlx.QueryerContext, id int64, forUpdate bool) (*models.Sale, error) {
	query := "SELECT " + saleColumns + " FROM sales WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var row saleRow
	err := sqlx.GetContext(ctx, q, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	sale := row.toModel()
	err = sqlx.SelectContext(ctx, q, &sale.Lines, `
		SELECT id, sale_id, position, product_id, quantity, unit_price, line_total
		FROM sale_lines WHERE sale_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	return sale, nil
}
