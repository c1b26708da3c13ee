package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	Accounts *SQLiteAccountRepo
	Tickets  *SQLiteTicketRepo
	Contacts *SQLiteContactRepo
	Messages *SQLiteMessageRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		Accounts: &SQLiteAccountRepo{db: db},
		Tickets:  &SQLiteTicketRepo{db: db},
		Contacts: &SQLiteContactRepo{db: db},
		Messages: &SQLiteMessageRepo{db: db},
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- WhatsApp accounts table
	CREATE TABLE IF NOT EXISTS whatsapps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		session TEXT NOT NULL DEFAULT '',
		proxy TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'OPENING',
		qrcode TEXT NOT NULL DEFAULT '',
		retries INTEGER NOT NULL DEFAULT 0,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Contacts table
	CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		jid TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		number TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Tickets table
	CREATE TABLE IF NOT EXISTS tickets (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		whatsapp_id INTEGER NOT NULL,
		contact_id INTEGER NOT NULL,
		queue_id INTEGER,
		user_id INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		unread_messages INTEGER NOT NULL DEFAULT 0,
		last_message TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (whatsapp_id) REFERENCES whatsapps(id) ON DELETE CASCADE,
		FOREIGN KEY (contact_id) REFERENCES contacts(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_updated ON tickets(updated_at DESC);
	CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
	CREATE INDEX IF NOT EXISTS idx_tickets_contact ON tickets(contact_id);

	-- Messages table
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		ticket_id INTEGER NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		from_me BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_messages_ticket ON messages(ticket_id, timestamp);
	`

	_, err := db.Exec(migration)
	return err
}

// --- Accounts ---

type SQLiteAccountRepo struct {
	db *sql.DB
}

func (r *SQLiteAccountRepo) Load(ctx context.Context, id int64) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, session, proxy, status, qrcode, retries, is_default, updated_at
		FROM whatsapps WHERE id = ?`, id)

	a := &Account{}
	err := row.Scan(&a.ID, &a.Name, &a.Session, &a.Proxy, &a.Status, &a.QRCode,
		&a.Retries, &a.IsDefault, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return a, nil
}

func (r *SQLiteAccountRepo) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, session, proxy, status, qrcode, retries, is_default, updated_at
		FROM whatsapps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Session, &a.Proxy, &a.Status,
			&a.QRCode, &a.Retries, &a.IsDefault, &a.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *SQLiteAccountRepo) Create(ctx context.Context, account *Account) error {
	if account.Status == "" {
		account.Status = StatusOpening
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO whatsapps (name, session, proxy, status, qrcode, retries, is_default, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		account.Name, account.Session, account.Proxy, account.Status,
		account.QRCode, account.Retries, account.IsDefault, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.ID, err = res.LastInsertId()
	return err
}

func (r *SQLiteAccountRepo) Update(ctx context.Context, id int64, partial AccountPartial) error {
	sets := make([]string, 0, 5)
	args := make([]any, 0, 6)

	if partial.Session != nil {
		sets = append(sets, "session = ?")
		args = append(args, *partial.Session)
	}
	if partial.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *partial.Status)
	}
	if partial.QRCode != nil {
		sets = append(sets, "qrcode = ?")
		args = append(args, *partial.QRCode)
	}
	if partial.Retries != nil {
		sets = append(sets, "retries = ?")
		args = append(args, *partial.Retries)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now(), id)

	query := "UPDATE whatsapps SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// --- Contacts ---

type SQLiteContactRepo struct {
	db *sql.DB
}

func (r *SQLiteContactRepo) Upsert(ctx context.Context, contact *Contact) (*Contact, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO contacts (jid, name, number, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			number = excluded.number,
			updated_at = excluded.updated_at`,
		contact.JID, contact.Name, contact.Number, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to upsert contact: %w", err)
	}
	return r.GetByJID(ctx, contact.JID)
}

func (r *SQLiteContactRepo) GetByJID(ctx context.Context, jid string) (*Contact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, jid, name, number, updated_at FROM contacts WHERE jid = ?`, jid)

	c := &Contact{}
	err := row.Scan(&c.ID, &c.JID, &c.Name, &c.Number, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// --- Tickets ---

type SQLiteTicketRepo struct {
	db *sql.DB
}

const ticketColumns = `
	t.id, t.whatsapp_id, t.contact_id, t.queue_id, t.user_id, t.status,
	t.unread_messages, t.last_message, t.updated_at,
	c.id, c.jid, c.name, c.number, c.updated_at`

func scanTicket(scanner interface{ Scan(...any) error }) (*Ticket, error) {
	t := &Ticket{Contact: &Contact{}}
	var queueID, userID sql.NullInt64
	err := scanner.Scan(&t.ID, &t.WhatsappID, &t.ContactID, &queueID, &userID,
		&t.Status, &t.UnreadMessages, &t.LastMessage, &t.UpdatedAt,
		&t.Contact.ID, &t.Contact.JID, &t.Contact.Name, &t.Contact.Number,
		&t.Contact.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if queueID.Valid {
		t.QueueID = &queueID.Int64
	}
	if userID.Valid {
		t.UserID = &userID.Int64
	}
	return t, nil
}

func (r *SQLiteTicketRepo) GetByID(ctx context.Context, id int64) (*Ticket, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t JOIN contacts c ON c.id = t.contact_id
		WHERE t.id = ?`, id)

	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return t, nil
}

func (r *SQLiteTicketRepo) List(ctx context.Context, req PageRequest) ([]Ticket, bool, error) {
	where := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if req.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, req.Status)
	}
	if req.WhatsappID != 0 {
		where = append(where, "t.whatsapp_id = ?")
		args = append(args, req.WhatsappID)
	}
	if !req.ShowAll {
		where = append(where, "(t.user_id IS NULL OR t.user_id = ?)")
		args = append(args, req.UserID)
	}
	if len(req.QueueIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(req.QueueIDs)), ",")
		where = append(where, "(t.queue_id IS NULL OR t.queue_id IN ("+placeholders+"))")
		for _, qid := range req.QueueIDs {
			args = append(args, qid)
		}
	}
	if req.SearchParam != "" {
		where = append(where, "(LOWER(c.name) LIKE ? OR t.last_message LIKE ?)")
		pattern := "%" + strings.ToLower(req.SearchParam) + "%"
		args = append(args, pattern, pattern)
	}

	query := `SELECT ` + ticketColumns + `
		FROM tickets t JOIN contacts c ON c.id = t.contact_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.updated_at DESC LIMIT ? OFFSET ?"

	page := req.PageNumber
	if page < 1 {
		page = 1
	}
	// Fetch one extra row to derive hasMore without a count query.
	args = append(args, PageSize+1, (page-1)*PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, false, err
		}
		tickets = append(tickets, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(tickets) > PageSize
	if hasMore {
		tickets = tickets[:PageSize]
	}
	return tickets, hasMore, nil
}

func (r *SQLiteTicketRepo) FindOrCreateOpen(ctx context.Context, contactID, whatsappID int64) (*Ticket, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id FROM tickets
		WHERE contact_id = ? AND whatsapp_id = ? AND status IN ('open', 'pending')
		ORDER BY updated_at DESC LIMIT 1`, contactID, whatsappID)

	var id int64
	err := row.Scan(&id)
	if err == nil {
		t, err := r.GetByID(ctx, id)
		return t, false, err
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to find ticket: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tickets (whatsapp_id, contact_id, status, unread_messages, updated_at)
		VALUES (?, ?, 'pending', 0, ?)`, whatsappID, contactID, time.Now())
	if err != nil {
		return nil, false, fmt.Errorf("failed to create ticket: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return nil, false, err
	}
	t, err := r.GetByID(ctx, id)
	return t, true, err
}

func (r *SQLiteTicketRepo) BumpUnread(ctx context.Context, id int64, lastMessage string) (*Ticket, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE tickets
		SET unread_messages = unread_messages + 1, last_message = ?, updated_at = ?
		WHERE id = ?`, lastMessage, time.Now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to bump unread: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *SQLiteTicketRepo) ZeroUnread(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE tickets SET unread_messages = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to zero unread: %w", err)
	}
	return nil
}

func (r *SQLiteTicketRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	return nil
}

// --- Messages ---

type SQLiteMessageRepo struct {
	db *sql.DB
}

func (r *SQLiteMessageRepo) Store(ctx context.Context, msg *Message) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, ticket_id, body, from_me, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.TicketID, msg.Body, msg.FromMe, msg.Timestamp)
	if err != nil {
		return false, fmt.Errorf("failed to store message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteMessageRepo) CountByTicket(ctx context.Context, ticketID int64) (int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE ticket_id = ?`, ticketID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
