// Package pg implements the durable stores on PostgreSQL: payment ledger,
// grant store and catalog, all over one pool. Grant creation is an atomic
// insert-if-absent on the (principal, bundle) key, which is what makes
// concurrent payment confirmations collapse to a single persisted grant.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"docvault.org/internal/catalog"
	"docvault.org/internal/entitlement"
	"docvault.org/internal/ids"
	"docvault.org/internal/money"
	"docvault.org/internal/payment"
)

// ErrUnavailable wraps storage-layer failures. It is the only error class the
// caller may retry.
var ErrUnavailable = errors.New("pg: storage unavailable")

type Store struct {
	db *sql.DB
}

var (
	_ payment.Service   = (*Store)(nil)
	_ entitlement.Store = (*Store)(nil)
	_ catalog.Store     = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool (tests use sqlmock through here).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- payment ledger -------------------------------------------------------

func (s *Store) Record(ctx context.Context, principalID, bundleID string, amount money.Money) (payment.Payment, error) {
	if !amount.IsPositive() {
		return payment.Payment{}, payment.ErrInvalidAmount
	}
	if amount.Currency == "" {
		return payment.Payment{}, payment.ErrInvalidCurrency
	}

	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from bundles where id=$1`, bundleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, payment.ErrUnknownBundle
	}
	if err != nil {
		return payment.Payment{}, unavailable(err)
	}

	id := ids.New()
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `
		insert into payments(id, principal_id, bundle_id, currency, amount, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$7)
	`, id, principalID, bundleID, amount.Currency, amount.Amount, payment.StatusPending, now); err != nil {
		return payment.Payment{}, unavailable(err)
	}

	return payment.Payment{
		ID:          id,
		PrincipalID: principalID,
		BundleID:    bundleID,
		Amount:      amount,
		Status:      payment.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Confirm transitions pending -> completed and creates the grant inside the
// same transaction, so there is no observable state where the payment is
// completed but the grant missing. Replaying a completed payment returns the
// stored record untouched.
func (s *Store) Confirm(ctx context.Context, id string) (payment.Payment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return payment.Payment{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPaymentRow(tx.QueryRowContext(ctx, `
		select id, principal_id, bundle_id, currency, amount, status, coalesce(reason,''), created_at, updated_at
		from payments where id=$1 for update
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, payment.ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, unavailable(err)
	}

	switch p.Status {
	case payment.StatusCompleted:
		return p, tx.Commit()
	case payment.StatusFailed:
		return payment.Payment{}, payment.ErrFailedState
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		insert into grants(principal_id, bundle_id, granted_at, expires_at, override)
		values ($1,$2,$3,null,false)
		on conflict (principal_id, bundle_id) do nothing
	`, p.PrincipalID, p.BundleID, now); err != nil {
		return payment.Payment{}, unavailable(err)
	}
	if _, err := tx.ExecContext(ctx, `
		update payments set status=$2, updated_at=$3 where id=$1
	`, p.ID, payment.StatusCompleted, now); err != nil {
		return payment.Payment{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return payment.Payment{}, unavailable(err)
	}

	p.Status = payment.StatusCompleted
	p.UpdatedAt = now
	return p, nil
}

func (s *Store) Fail(ctx context.Context, id, reason string) (payment.Payment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return payment.Payment{}, unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanPaymentRow(tx.QueryRowContext(ctx, `
		select id, principal_id, bundle_id, currency, amount, status, coalesce(reason,''), created_at, updated_at
		from payments where id=$1 for update
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, payment.ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, unavailable(err)
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, payment.ErrNotPending
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update payments set status=$2, reason=$3, updated_at=$4 where id=$1
	`, p.ID, payment.StatusFailed, reason, now); err != nil {
		return payment.Payment{}, unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return payment.Payment{}, unavailable(err)
	}

	p.Status = payment.StatusFailed
	p.Reason = reason
	p.UpdatedAt = now
	return p, nil
}

func (s *Store) Get(ctx context.Context, id string) (payment.Payment, error) {
	p, err := scanPaymentRow(s.db.QueryRowContext(ctx, `
		select id, principal_id, bundle_id, currency, amount, status, coalesce(reason,''), created_at, updated_at
		from payments where id=$1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, payment.ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, unavailable(err)
	}
	return p, nil
}

func (s *Store) ListByPrincipal(ctx context.Context, principalID string) ([]payment.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, principal_id, bundle_id, currency, amount, status, coalesce(reason,''), created_at, updated_at
		from payments where principal_id=$1 order by created_at asc
	`, principalID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var res []payment.Payment
	for rows.Next() {
		p, err := scanPaymentRow(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return res, nil
}

// --- entitlement store ----------------------------------------------------

func (s *Store) Grant(ctx context.Context, principalID, bundleID string, expiresAt *time.Time) (entitlement.Grant, error) {
	return s.upsertGrant(ctx, principalID, bundleID, expiresAt, false)
}

func (s *Store) Override(ctx context.Context, principalID, bundleID string, expiresAt *time.Time) (entitlement.Grant, error) {
	return s.upsertGrant(ctx, principalID, bundleID, expiresAt, true)
}

func (s *Store) upsertGrant(ctx context.Context, principalID, bundleID string, expiresAt *time.Time, override bool) (entitlement.Grant, error) {
	// The later writer hits the conflict, changes nothing, and reads back the
	// row the first writer committed.
	if _, err := s.db.ExecContext(ctx, `
		insert into grants(principal_id, bundle_id, granted_at, expires_at, override)
		values ($1,$2,$3,$4,$5)
		on conflict (principal_id, bundle_id) do nothing
	`, principalID, bundleID, time.Now().UTC(), expiresAt, override); err != nil {
		return entitlement.Grant{}, unavailable(err)
	}
	g, err := s.Find(ctx, principalID, bundleID)
	if err != nil {
		return entitlement.Grant{}, err
	}
	return g, nil
}

func (s *Store) Revoke(ctx context.Context, principalID, bundleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from grants where principal_id=$1 and bundle_id=$2
	`, principalID, bundleID)
	if err != nil {
		return unavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return unavailable(err)
	}
	if affected == 0 {
		return entitlement.ErrNotFound
	}
	return nil
}

func (s *Store) Find(ctx context.Context, principalID, bundleID string) (entitlement.Grant, error) {
	var (
		g       entitlement.Grant
		expires sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select principal_id, bundle_id, granted_at, expires_at, override
		from grants where principal_id=$1 and bundle_id=$2
	`, principalID, bundleID).Scan(&g.PrincipalID, &g.BundleID, &g.GrantedAt, &expires, &g.Override)
	if errors.Is(err, sql.ErrNoRows) {
		return entitlement.Grant{}, entitlement.ErrNotFound
	}
	if err != nil {
		return entitlement.Grant{}, unavailable(err)
	}
	if expires.Valid {
		t := expires.Time.UTC()
		g.ExpiresAt = &t
	}
	return g, nil
}

// --- catalog --------------------------------------------------------------

func (s *Store) FindBundle(ctx context.Context, id string) (catalog.Bundle, error) {
	b, err := scanBundleRow(s.db.QueryRowContext(ctx, `
		select b.id, b.name, coalesce(b.description,''), b.price_currency, b.price_amount, b.created_at,
		       (select count(*) from documents d where d.bundle_id = b.id)
		from bundles b where b.id=$1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Bundle{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Bundle{}, unavailable(err)
	}
	return b, nil
}

func (s *Store) ListBundles(ctx context.Context) ([]catalog.Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `
		select b.id, b.name, coalesce(b.description,''), b.price_currency, b.price_amount, b.created_at,
		       (select count(*) from documents d where d.bundle_id = b.id)
		from bundles b order by b.id asc
	`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var res []catalog.Bundle
	for rows.Next() {
		b, err := scanBundleRow(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		res = append(res, b)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return res, nil
}

func (s *Store) FindDocument(ctx context.Context, id string) (catalog.Document, error) {
	var d catalog.Document
	err := s.db.QueryRowContext(ctx, `
		select id, bundle_id, title, coalesce(description,''), content_key, created_at
		from documents where id=$1
	`, id).Scan(&d.ID, &d.BundleID, &d.Title, &d.Description, &d.ContentKey, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Document{}, catalog.ErrNotFound
	}
	if err != nil {
		return catalog.Document{}, unavailable(err)
	}
	return d, nil
}

func (s *Store) ListDocuments(ctx context.Context, bundleID string) ([]catalog.Document, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `select 1 from bundles where id=$1`, bundleID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, bundle_id, title, coalesce(description,''), content_key, created_at
		from documents where bundle_id=$1 order by id asc
	`, bundleID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var res []catalog.Document
	for rows.Next() {
		var d catalog.Document
		if err := rows.Scan(&d.ID, &d.BundleID, &d.Title, &d.Description, &d.ContentKey, &d.CreatedAt); err != nil {
			return nil, unavailable(err)
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return res, nil
}

// --- helpers --------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaymentRow(row rowScanner) (payment.Payment, error) {
	var (
		p      payment.Payment
		status string
	)
	if err := row.Scan(&p.ID, &p.PrincipalID, &p.BundleID, &p.Amount.Currency, &p.Amount.Amount,
		&status, &p.Reason, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return payment.Payment{}, err
	}
	p.Status = payment.Status(status)
	return p, nil
}

func scanBundleRow(row rowScanner) (catalog.Bundle, error) {
	var b catalog.Bundle
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Price.Currency, &b.Price.Amount,
		&b.CreatedAt, &b.DocumentCount); err != nil {
		return catalog.Bundle{}, err
	}
	return b, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
