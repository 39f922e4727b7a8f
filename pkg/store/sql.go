// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Supported SQL drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const pgUniqueViolation = "23505"

// SQL is a Store backed by database/sql.
type SQL struct {
	db      *sql.DB
	dialect string
	now     func() time.Time
}

var _ Store = (*SQL)(nil)

// OpenSQL opens the database, applies the embedded schema and returns the store.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQL, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("storage dsn is required")
	}
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
		if err == nil {
			// a single connection keeps ":memory:" databases shared and avoids writer contention
			db.SetMaxOpenConns(1)
			db.SetMaxIdleConns(1)
		}
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	s := &SQL{db: db, dialect: driver, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connecting to %s database: %w", s.dialect, err)
	}
	if s.dialect == DriverSQLite {
		_, _ = s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
		_, _ = s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	}
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return fmt.Errorf("reading %s schema: %w", s.dialect, err)
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying %s schema: %w", s.dialect, err)
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (s *SQL) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

const senderColumns = "email, domain, email_pass, email_host, port, created_at, created_by"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSender(row rowScanner) (Sender, error) {
	var (
		s       Sender
		created int64
	)
	if err := row.Scan(&s.Address, &s.Domain, &s.Secret, &s.Host, &s.Port, &created, &s.CreatedBy); err != nil {
		return Sender{}, err
	}
	s.CreatedAt = time.UnixMilli(created).UTC()
	return s, nil
}

func (s *SQL) ListSenders(ctx context.Context) ([]Sender, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+senderColumns+" FROM email_creds ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("list senders: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Sender
	for rows.Next() {
		sender, err := scanSender(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sender: %w", err)
		}
		out = append(out, sender)
	}
	return out, rows.Err()
}

func (s *SQL) GetSender(ctx context.Context, address string) (Sender, error) {
	row := s.db.QueryRowContext(ctx, s.rebind("SELECT "+senderColumns+" FROM email_creds WHERE email = ?"), address)
	sender, err := scanSender(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sender{}, fmt.Errorf("sender %q: %w", address, ErrNotFound)
	}
	if err != nil {
		return Sender{}, fmt.Errorf("get sender %q: %w", address, err)
	}
	return sender, nil
}

func (s *SQL) CreateSender(ctx context.Context, sender Sender) error {
	sender, err := prepareSender(sender, s.now())
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		s.rebind("INSERT INTO email_creds ("+senderColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)"),
		sender.Address, sender.Domain, sender.Secret, sender.Host, sender.Port,
		sender.CreatedAt.UnixMilli(), sender.CreatedBy,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("sender %q: %w", sender.Address, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("create sender %q: %w", sender.Address, err)
	}
	return nil
}

const carrierColumns = "id, wireless_carrier, domain, allow_multimedia, created_at"

func (s *SQL) queryCarriers(ctx context.Context, query string, args ...any) ([]Carrier, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list carriers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Carrier
	for rows.Next() {
		var (
			c       Carrier
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Domain, &c.AllowsMultimedia, &created); err != nil {
			return nil, fmt.Errorf("scan carrier: %w", err)
		}
		c.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQL) ListCarriers(ctx context.Context) ([]Carrier, error) {
	return s.queryCarriers(ctx, "SELECT "+carrierColumns+" FROM wireless_carrier_email_text ORDER BY id")
}

func (s *SQL) ListCarriersByMultimedia(ctx context.Context, multimedia bool) ([]Carrier, error) {
	return s.queryCarriers(ctx,
		"SELECT "+carrierColumns+" FROM wireless_carrier_email_text WHERE allow_multimedia = ? ORDER BY id",
		multimedia)
}

func (s *SQL) CreateCarrier(ctx context.Context, name, domain string, multimedia bool) (Carrier, error) {
	name = strings.TrimSpace(name)
	domain = NormalizeCarrierDomain(domain)
	if name == "" || domain == "" {
		return Carrier{}, errors.New("carrier name and domain are required")
	}
	c := Carrier{Name: name, Domain: domain, AllowsMultimedia: multimedia, CreatedAt: s.now().UTC()}
	err := s.db.QueryRowContext(ctx,
		s.rebind("INSERT INTO wireless_carrier_email_text (wireless_carrier, domain, allow_multimedia, created_at) VALUES (?, ?, ?, ?) RETURNING id"),
		c.Name, c.Domain, c.AllowsMultimedia, c.CreatedAt.UnixMilli(),
	).Scan(&c.ID)
	if isUniqueViolation(err) {
		return Carrier{}, fmt.Errorf("carrier %s%s: %w", name, domain, ErrDuplicate)
	}
	if err != nil {
		return Carrier{}, fmt.Errorf("create carrier %s: %w", name, err)
	}
	// millisecond precision matches what a later read returns
	c.CreatedAt = time.UnixMilli(c.CreatedAt.UnixMilli()).UTC()
	return c, nil
}

func (s *SQL) DeleteCarrier(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM wireless_carrier_email_text WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete carrier %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete carrier %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("carrier %d: %w", id, ErrNotFound)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQL) Close() error {
	return s.db.Close()
}
