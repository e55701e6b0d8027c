package players

import (
	"arena/lib"
	"arena/lib/players/migrations"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	ErrPlayerNotFound = errors.New("player not found")
	ErrInvalidPlayer  = errors.New("invalid player")
)

type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// rebind rewrites ? placeholders into $n for postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var builder strings.Builder
	builder.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// Attributes is the live, persisted state of a player.
type Attributes struct {
	ID           lib.PlayerID `json:"id"`
	Handle       string       `json:"handle"`
	HP           int          `json:"hp"`
	MaxHP        int          `json:"max_hp"`
	Energy       int          `json:"energy"`
	MaxEnergy    int          `json:"max_energy"`
	AttackPower  int          `json:"attack_power"`
	DefensePower int          `json:"defense_power"`
	Level        int          `json:"level"`
	Gold         int64        `json:"gold"`
	Experience   int64        `json:"experience"`
	Wins         int          `json:"wins"`
	Losses       int          `json:"losses"`
}

// RewardDelta is applied once per participant of a finished duel.
type RewardDelta struct {
	Gold       int64 `json:"gold"`
	Experience int64 `json:"experience"`
	Wins       int   `json:"wins"`
	Losses     int   `json:"losses"`
}

// Store persists player attributes and duel settlements through database/sql.
// Postgres is reached through the pgx stdlib bridge, SQLite through modernc.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// OpenPostgres wraps an existing pgx pool and applies migrations.
func OpenPostgres(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	store := NewStore(stdlib.OpenDBFromPool(pool), DialectPostgres)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// OpenSQLite opens a SQLite database at path (":memory:" allowed) and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers anyway, and an in-memory database only
	// exists for the connection that created it.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	store := NewStore(db, DialectSQLite)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := ApplyMigrations(ctx, s.db, s.dialect, migrations.FS); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Health(ctx context.Context) bool {
	if s == nil || s.db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 1*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// UpsertPlayer creates a player or overwrites its combat attributes.
// Progression totals (gold, experience, wins, losses) are only set on insert.
func (s *Store) UpsertPlayer(ctx context.Context, player Attributes) error {
	if player.ID == "" || strings.TrimSpace(player.Handle) == "" {
		return fmt.Errorf("%w: id and handle are required", ErrInvalidPlayer)
	}
	if player.MaxHP <= 0 || player.MaxEnergy < 0 {
		return fmt.Errorf("%w: max hp must be positive", ErrInvalidPlayer)
	}
	if player.Level <= 0 {
		player.Level = 1
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
INSERT INTO players (
    id, handle, hp, max_hp, energy, max_energy, attack_power, defense_power,
    level, gold, experience, wins, losses, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    handle = excluded.handle,
    hp = excluded.hp,
    max_hp = excluded.max_hp,
    energy = excluded.energy,
    max_energy = excluded.max_energy,
    attack_power = excluded.attack_power,
    defense_power = excluded.defense_power,
    level = excluded.level,
    updated_at = excluded.updated_at`),
		string(player.ID),
		strings.TrimSpace(player.Handle),
		player.HP,
		player.MaxHP,
		player.Energy,
		player.MaxEnergy,
		player.AttackPower,
		player.DefensePower,
		player.Level,
		player.Gold,
		player.Experience,
		player.Wins,
		player.Losses,
		time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	return nil
}

// ReadAttributes returns the live attributes of a player.
func (s *Store) ReadAttributes(ctx context.Context, player_id lib.PlayerID) (Attributes, error) {
	query_ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var player Attributes
	var id string
	err := s.db.QueryRowContext(query_ctx, s.dialect.rebind(`
SELECT id, handle, hp, max_hp, energy, max_energy, attack_power, defense_power,
       level, gold, experience, wins, losses
FROM players WHERE id = ?`), string(player_id)).Scan(
		&id,
		&player.Handle,
		&player.HP,
		&player.MaxHP,
		&player.Energy,
		&player.MaxEnergy,
		&player.AttackPower,
		&player.DefensePower,
		&player.Level,
		&player.Gold,
		&player.Experience,
		&player.Wins,
		&player.Losses,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Attributes{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, player_id)
	}
	if err != nil {
		return Attributes{}, fmt.Errorf("failed to read player attributes: %w", err)
	}
	player.ID = lib.PlayerID(id)
	return player, nil
}

// ApplyRewardDelta applies delta to the player at most once per duel session.
// It reports false when the delta had already been recorded for that session.
// Gold never drops below zero.
func (s *Store) ApplyRewardDelta(ctx context.Context, session_id string, player_id lib.PlayerID, delta RewardDelta) (bool, error) {
	query_ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.db.BeginTx(query_ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().UnixMilli()
	res, err := tx.ExecContext(query_ctx, s.dialect.rebind(`
INSERT INTO duel_settlements (session_id, player_id, gold, experience, wins, losses, settled_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`),
		session_id, string(player_id), delta.Gold, delta.Experience, delta.Wins, delta.Losses, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record settlement: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record settlement: %w", err)
	}
	if inserted == 0 {
		slog.Debug("Players : settlement already applied", "session_id", session_id, "player_id", player_id)
		return false, tx.Commit()
	}

	res, err = tx.ExecContext(query_ctx, s.dialect.rebind(`
UPDATE players SET
    gold = CASE WHEN gold + ? < 0 THEN 0 ELSE gold + ? END,
    experience = experience + ?,
    wins = wins + ?,
    losses = losses + ?,
    updated_at = ?
WHERE id = ?`),
		delta.Gold, delta.Gold, delta.Experience, delta.Wins, delta.Losses, now, string(player_id),
	)
	if err != nil {
		return false, fmt.Errorf("failed to apply reward delta: %w", err)
	}
	updated, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to apply reward delta: %w", err)
	}
	if updated == 0 {
		return false, fmt.Errorf("%w: %s", ErrPlayerNotFound, player_id)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}
