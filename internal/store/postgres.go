package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/aquamart/dispatch/pkg/models"
)

// PostgresStore persists dispatch entities in postgres. Nested values
// (line items, destination, timeline) are stored as JSONB columns.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgresStore(dsn string, logger *logrus.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{db: db, logger: logger}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Postgres store ready")
	return s, nil
}

func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS quote_requests (
			id VARCHAR(64) PRIMARY KEY,
			requester_id VARCHAR(64) NOT NULL,
			items JSONB NOT NULL,
			items_total DECIMAL(12,2) NOT NULL,
			destination JSONB NOT NULL,
			city VARCHAR(128) NOT NULL,
			instructions TEXT,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS quotes (
			id VARCHAR(64) PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL REFERENCES quote_requests(id),
			provider_id VARCHAR(64) NOT NULL,
			provider_name VARCHAR(255),
			provider_phone VARCHAR(64),
			fee DECIMAL(12,2) NOT NULL,
			eta_minutes INTEGER NOT NULL,
			notes TEXT,
			status VARCHAR(16) NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			request_id VARCHAR(64) NOT NULL,
			quote_id VARCHAR(64) NOT NULL,
			requester_id VARCHAR(64) NOT NULL,
			provider_id VARCHAR(64) NOT NULL,
			provider_name VARCHAR(255),
			provider_phone VARCHAR(64),
			items JSONB NOT NULL,
			items_total DECIMAL(12,2) NOT NULL,
			delivery_fee DECIMAL(12,2) NOT NULL,
			destination JSONB NOT NULL,
			confirmation_code VARCHAR(6),
			rating INTEGER,
			feedback TEXT,
			status VARCHAR(16) NOT NULL,
			timeline JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			delivered_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS carts (
			requester_id VARCHAR(64) PRIMARY KEY,
			items JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status_city ON quote_requests(status, city)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_request_id ON quotes(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_provider_id ON orders(provider_id)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req models.QuoteRequest) error {
	items, _ := json.Marshal(req.Items)
	dest, _ := json.Marshal(req.Destination)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quote_requests (id, requester_id, items, items_total, destination, city, instructions, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, req.ID, req.RequesterID, items, req.ItemsTotal, dest, req.Destination.City,
		req.Instructions, req.Status, req.CreatedAt, req.ExpiresAt)
	return err
}

const requestColumns = `id, requester_id, items, items_total, destination, instructions, status, created_at, expires_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*models.QuoteRequest, error) {
	req := &models.QuoteRequest{}
	var items, dest []byte
	err := row.Scan(&req.ID, &req.RequesterID, &items, &req.ItemsTotal, &dest,
		&req.Instructions, &req.Status, &req.CreatedAt, &req.ExpiresAt)
	if err != nil {
		return nil, err
	}
	json.Unmarshal(items, &req.Items)
	json.Unmarshal(dest, &req.Destination)
	return req, nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*models.QuoteRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM quote_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return req, err
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, req models.QuoteRequest) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quote_requests SET status = $2, expires_at = $3 WHERE id = $1`,
		req.ID, req.Status, req.ExpiresAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListOpenRequests(ctx context.Context, cities []string, now time.Time) ([]models.QuoteRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM quote_requests
		WHERE status = $1 AND expires_at > $2`
	args := []interface{}{models.RequestOpen, now}
	if len(cities) > 0 {
		lowered := make([]string, 0, len(cities))
		for _, c := range cities {
			lowered = append(lowered, strings.ToLower(strings.TrimSpace(c)))
		}
		query += ` AND LOWER(city) = ANY($3)`
		args = append(args, pq.Array(lowered))
	}
	query += ` ORDER BY created_at DESC`
	return s.queryRequests(ctx, query, args...)
}

func (s *PostgresStore) ListExpiredOpenRequests(ctx context.Context, now time.Time) ([]models.QuoteRequest, error) {
	return s.queryRequests(ctx, `SELECT `+requestColumns+` FROM quote_requests
		WHERE status = $1 AND expires_at <= $2`, models.RequestOpen, now)
}

func (s *PostgresStore) queryRequests(ctx context.Context, query string, args ...interface{}) ([]models.QuoteRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []models.QuoteRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateQuote(ctx context.Context, quote models.Quote) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quotes (id, request_id, provider_id, provider_name, provider_phone, fee, eta_minutes, notes, status, submitted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, quote.ID, quote.RequestID, quote.ProviderID, quote.ProviderName, quote.ProviderPhone,
		quote.Fee, quote.ETAMinutes, quote.Notes, quote.Status, quote.SubmittedAt, quote.ExpiresAt)
	return err
}

const quoteColumns = `id, request_id, provider_id, provider_name, provider_phone, fee, eta_minutes, notes, status, submitted_at, expires_at`

func scanQuote(row interface{ Scan(...interface{}) error }) (*models.Quote, error) {
	quote := &models.Quote{}
	err := row.Scan(&quote.ID, &quote.RequestID, &quote.ProviderID, &quote.ProviderName,
		&quote.ProviderPhone, &quote.Fee, &quote.ETAMinutes, &quote.Notes, &quote.Status,
		&quote.SubmittedAt, &quote.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return quote, nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, id string) (*models.Quote, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id = $1`, id)
	quote, err := scanQuote(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return quote, err
}

func (s *PostgresStore) UpdateQuote(ctx context.Context, quote models.Quote) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotes SET status = $2 WHERE id = $1`, quote.ID, quote.Status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListQuotesByRequest(ctx context.Context, requestID string) ([]models.Quote, error) {
	return s.queryQuotes(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE request_id = $1`, requestID)
}

func (s *PostgresStore) ListExpiredPendingQuotes(ctx context.Context, now time.Time) ([]models.Quote, error) {
	return s.queryQuotes(ctx, `SELECT `+quoteColumns+` FROM quotes
		WHERE status = $1 AND expires_at <= $2`, models.QuotePending, now)
}

func (s *PostgresStore) queryQuotes(ctx context.Context, query string, args ...interface{}) ([]models.Quote, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []models.Quote
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *quote)
	}
	return result, rows.Err()
}

func (s *PostgresStore) ApplyAcceptance(ctx context.Context, req models.QuoteRequest, quotes []models.Quote, order models.Order) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE quote_requests SET status = $2 WHERE id = $1`, req.ID, req.Status); err != nil {
		return err
	}
	for _, quote := range quotes {
		if _, err := tx.ExecContext(ctx,
			`UPDATE quotes SET status = $2 WHERE id = $1`, quote.ID, quote.Status); err != nil {
			return err
		}
	}
	items, _ := json.Marshal(order.Items)
	dest, _ := json.Marshal(order.Destination)
	timeline, _ := json.Marshal(order.Timeline)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, request_id, quote_id, requester_id, provider_id, provider_name, provider_phone,
			items, items_total, delivery_fee, destination, confirmation_code, rating, feedback, status, timeline, created_at, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, order.ID, order.RequestID, order.QuoteID, order.RequesterID, order.ProviderID,
		order.ProviderName, order.ProviderPhone, items, order.ItemsTotal, order.DeliveryFee,
		dest, order.ConfirmationCode, order.Rating, order.Feedback, order.Status,
		timeline, order.CreatedAt, order.DeliveredAt); err != nil {
		return err
	}
	return tx.Commit()
}

const orderColumns = `id, request_id, quote_id, requester_id, provider_id, provider_name, provider_phone,
	items, items_total, delivery_fee, destination, confirmation_code, rating, feedback, status, timeline, created_at, delivered_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*models.Order, error) {
	order := &models.Order{}
	var items, dest, timeline []byte
	var code sql.NullString
	var deliveredAt sql.NullTime
	err := row.Scan(&order.ID, &order.RequestID, &order.QuoteID, &order.RequesterID,
		&order.ProviderID, &order.ProviderName, &order.ProviderPhone, &items,
		&order.ItemsTotal, &order.DeliveryFee, &dest, &code, &order.Rating,
		&order.Feedback, &order.Status, &timeline, &order.CreatedAt, &deliveredAt)
	if err != nil {
		return nil, err
	}
	order.ConfirmationCode = code.String
	if deliveredAt.Valid {
		t := deliveredAt.Time
		order.DeliveredAt = &t
	}
	json.Unmarshal(items, &order.Items)
	json.Unmarshal(dest, &order.Destination)
	json.Unmarshal(timeline, &order.Timeline)
	return order, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return order, err
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, order models.Order) error {
	timeline, _ := json.Marshal(order.Timeline)
	var code interface{}
	if order.ConfirmationCode != "" {
		code = order.ConfirmationCode
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, timeline = $3, confirmation_code = $4,
			rating = $5, feedback = $6, delivered_at = $7
		WHERE id = $1
	`, order.ID, order.Status, timeline, code, order.Rating, order.Feedback, order.DeliveredAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListOrdersByProvider(ctx context.Context, providerID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE provider_id = $1 ORDER BY created_at DESC`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *order)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SaveCart(ctx context.Context, cart models.Cart) error {
	items, _ := json.Marshal(cart.Items)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (requester_id, items, updated_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (requester_id) DO UPDATE SET items = $2, updated_at = $3, expires_at = $4
	`, cart.RequesterID, items, cart.UpdatedAt, cart.ExpiresAt)
	return err
}

func (s *PostgresStore) GetCart(ctx context.Context, requesterID string) (*models.Cart, error) {
	cart := &models.Cart{}
	var items []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT requester_id, items, updated_at, expires_at FROM carts WHERE requester_id = $1`,
		requesterID).Scan(&cart.RequesterID, &items, &cart.UpdatedAt, &cart.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	json.Unmarshal(items, &cart.Items)
	return cart, nil
}

func (s *PostgresStore) DeleteCart(ctx context.Context, requesterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE requester_id = $1`, requesterID)
	return err
}

func (s *PostgresStore) ListExpiredCarts(ctx context.Context, now time.Time) ([]models.Cart, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT requester_id, items, updated_at, expires_at FROM carts WHERE expires_at <= $1`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []models.Cart
	for rows.Next() {
		cart := models.Cart{}
		var items []byte
		if err := rows.Scan(&cart.RequesterID, &items, &cart.UpdatedAt, &cart.ExpiresAt); err != nil {
			return nil, err
		}
		json.Unmarshal(items, &cart.Items)
		result = append(result, cart)
	}
	return result, rows.Err()
}
