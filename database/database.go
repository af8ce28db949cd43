package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// ErrProfileNotFound is returned when an operation references a profile that
// does not exist. Expected condition, never reported to Sentry.
var ErrProfileNotFound = errors.New("profile not found")

type Database struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
// An empty dbPath falls back to data/bluhub.db under the working directory.
func New(dbPath string) (*Database, error) {
	if dbPath == "" {
		dbPath = "data/bluhub.db"
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	// foreign_keys is per-connection state in SQLite, so it has to ride on
	// the DSN rather than a one-off Exec against the pool.
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	d := &Database{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infof("Database initialized at %s", dbPath)
	return d, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS playback_queues (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			profile_id TEXT NOT NULL UNIQUE REFERENCES profiles(id) ON DELETE CASCADE,
			source_kind TEXT NOT NULL DEFAULT 'none',
			source_id TEXT NOT NULL DEFAULT '',
			source_name TEXT NOT NULL DEFAULT '',
			current_index INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue_tracks (
			queue_id INTEGER NOT NULL REFERENCES playback_queues(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			track_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			artist TEXT NOT NULL DEFAULT '',
			album TEXT NOT NULL DEFAULT '',
			cover_url TEXT NOT NULL DEFAULT '',
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			is_hires INTEGER NOT NULL DEFAULT 0,
			is_streamable INTEGER NOT NULL DEFAULT 1,
			track_number INTEGER NOT NULL DEFAULT 0,
			disc_number INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (queue_id, position)
		)`,
		`CREATE TABLE IF NOT EXISTS player_cache (
			address TEXT PRIMARY KEY,
			player_id TEXT NOT NULL,
			name TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			brand TEXT NOT NULL DEFAULT '',
			mac TEXT NOT NULL DEFAULT '',
			last_seen DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_player_cache_last_seen ON player_cache(last_seen DESC)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}

	return nil
}

// --- Profiles ---

type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateProfile inserts a new profile with a generated ID.
func (d *Database) CreateProfile(name string) (*Profile, error) {
	p := &Profile{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	_, err := d.db.Exec(
		`INSERT INTO profiles (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return p, nil
}

func (d *Database) GetProfile(id string) (*Profile, error) {
	var p Profile
	var createdAt string
	err := d.db.QueryRow(
		`SELECT id, name, created_at FROM profiles WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

func (d *Database) ListProfiles() ([]Profile, error) {
	rows, err := d.db.Query(`SELECT id, name, created_at FROM profiles ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var p Profile
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile. Its queue and tracks cascade away with it.
func (d *Database) DeleteProfile(id string) (bool, error) {
	result, err := d.db.Exec(`DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Playback queue ---

type Queue struct {
	ID           int64        `json:"-"`
	ProfileID    string       `json:"profileId"`
	SourceKind   string       `json:"sourceType"`
	SourceID     string       `json:"sourceId"`
	SourceName   string       `json:"sourceName"`
	CurrentIndex int          `json:"currentIndex"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	Tracks       []QueueTrack `json:"tracks"`
}

type QueueTrack struct {
	Position        int    `json:"position"`
	TrackID         string `json:"trackId"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album"`
	CoverURL        string `json:"coverUrl"`
	DurationSeconds int    `json:"durationSeconds"`
	IsHiRes         bool   `json:"isHiRes"`
	IsStreamable    bool   `json:"isStreamable"`
	TrackNumber     int    `json:"trackNumber"`
	DiscNumber      int    `json:"discNumber"`
}

func (d *Database) requireProfile(profileID string) error {
	var one int
	err := d.db.QueryRow(`SELECT 1 FROM profiles WHERE id = ?`, profileID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrProfileNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check profile: %w", err)
	}
	return nil
}

// GetQueue returns the profile's queue with tracks in position order, or
// (nil, nil) when no queue has ever been set. CurrentIndex may be out of
// range; clamping is the reader's job. The header and track reads share one
// transaction, so a SetQueue committing in between cannot produce a queue
// with the old header and the new tracks.
func (d *Database) GetQueue(profileID string) (*Queue, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRow(`SELECT 1 FROM profiles WHERE id = ?`, profileID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check profile: %w", err)
	}

	var q Queue
	var updatedAt string
	err = tx.QueryRow(
		`SELECT id, profile_id, source_kind, source_id, source_name, current_index, updated_at
		 FROM playback_queues WHERE profile_id = ?`, profileID,
	).Scan(&q.ID, &q.ProfileID, &q.SourceKind, &q.SourceID, &q.SourceName, &q.CurrentIndex, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	q.UpdatedAt = parseTime(updatedAt)

	rows, err := tx.Query(
		`SELECT position, track_id, title, artist, album, cover_url, duration_seconds,
		        is_hires, is_streamable, track_number, disc_number
		 FROM queue_tracks WHERE queue_id = ? ORDER BY position ASC`, q.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue tracks: %w", err)
	}
	defer rows.Close()

	q.Tracks = []QueueTrack{}
	for rows.Next() {
		var t QueueTrack
		if err := rows.Scan(&t.Position, &t.TrackID, &t.Title, &t.Artist, &t.Album, &t.CoverURL,
			&t.DurationSeconds, &t.IsHiRes, &t.IsStreamable, &t.TrackNumber, &t.DiscNumber); err != nil {
			return nil, fmt.Errorf("failed to scan track row: %w", err)
		}
		q.Tracks = append(q.Tracks, t)
	}
	return &q, rows.Err()
}

// SetQueue atomically replaces the profile's queue with the given tracks.
// Positions are assigned 0..n-1 in input order and current_index resets to 0.
// The replace happens inside one transaction, so a concurrent reader sees
// either the fully-old or the fully-new queue.
func (d *Database) SetQueue(profileID, sourceKind, sourceID, sourceName string, tracks []QueueTrack) (*Queue, error) {
	if err := d.requireProfile(profileID); err != nil {
		return nil, err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.Exec(
		`INSERT INTO playback_queues (profile_id, source_kind, source_id, source_name, current_index, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(profile_id) DO UPDATE SET
			source_kind = excluded.source_kind,
			source_id = excluded.source_id,
			source_name = excluded.source_name,
			current_index = 0,
			updated_at = excluded.updated_at`,
		profileID, sourceKind, sourceID, sourceName, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert queue: %w", err)
	}

	var queueID int64
	if err := tx.QueryRow(
		`SELECT id FROM playback_queues WHERE profile_id = ?`, profileID,
	).Scan(&queueID); err != nil {
		return nil, fmt.Errorf("failed to read queue id: %w", err)
	}

	// Old tracks are discarded, never merged.
	if _, err := tx.Exec(`DELETE FROM queue_tracks WHERE queue_id = ?`, queueID); err != nil {
		return nil, fmt.Errorf("failed to delete old tracks: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO queue_tracks (queue_id, position, track_id, title, artist, album, cover_url,
			duration_seconds, is_hires, is_streamable, track_number, disc_number)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare track insert: %w", err)
	}
	defer stmt.Close()

	for i, t := range tracks {
		if _, err := stmt.Exec(queueID, i, t.TrackID, t.Title, t.Artist, t.Album, t.CoverURL,
			t.DurationSeconds, t.IsHiRes, t.IsStreamable, t.TrackNumber, t.DiscNumber); err != nil {
			return nil, fmt.Errorf("failed to insert track at position %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit queue replace: %w", err)
	}

	return d.GetQueue(profileID)
}

// UpdateQueueIndex stores newIndex verbatim. No bounds clamping at write
// time: the queue may legitimately be empty in transit. Returns false when
// the profile has no queue.
func (d *Database) UpdateQueueIndex(profileID string, newIndex int) (bool, error) {
	if err := d.requireProfile(profileID); err != nil {
		return false, err
	}

	result, err := d.db.Exec(
		`UPDATE playback_queues SET current_index = ?, updated_at = ? WHERE profile_id = ?`,
		newIndex, time.Now().UTC().Format(time.RFC3339Nano), profileID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update queue index: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearQueue deletes the queue and all its tracks. Returns false when the
// profile never had a queue.
func (d *Database) ClearQueue(profileID string) (bool, error) {
	if err := d.requireProfile(profileID); err != nil {
		return false, err
	}

	result, err := d.db.Exec(`DELETE FROM playback_queues WHERE profile_id = ?`, profileID)
	if err != nil {
		return false, fmt.Errorf("failed to clear queue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Player cache ---

// CachedPlayer is the persisted seed for a player: enough to render and
// address it without a full network sweep after a restart.
type CachedPlayer struct {
	Address  string    `json:"address"`
	PlayerID string    `json:"playerId"`
	Name     string    `json:"name"`
	Model    string    `json:"model"`
	Brand    string    `json:"brand"`
	MAC      string    `json:"mac"`
	LastSeen time.Time `json:"lastSeen"`
}

func (d *Database) UpsertPlayerCache(players []CachedPlayer) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range players {
		_, err := tx.Exec(
			`INSERT OR REPLACE INTO player_cache (address, player_id, name, model, brand, mac, last_seen)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.Address, p.PlayerID, p.Name, p.Model, p.Brand, p.MAC,
			p.LastSeen.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert player cache for %s: %w", p.Address, err)
		}
	}

	return tx.Commit()
}

func (d *Database) CachedPlayers() ([]CachedPlayer, error) {
	rows, err := d.db.Query(
		`SELECT address, player_id, name, model, brand, mac, last_seen
		 FROM player_cache ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query player cache: %w", err)
	}
	defer rows.Close()

	var players []CachedPlayer
	for rows.Next() {
		var p CachedPlayer
		var lastSeen string
		if err := rows.Scan(&p.Address, &p.PlayerID, &p.Name, &p.Model, &p.Brand, &p.MAC, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan player cache row: %w", err)
		}
		p.LastSeen = parseTime(lastSeen)
		players = append(players, p)
	}
	return players, rows.Err()
}

// parseTime handles the two datetime shapes SQLite hands back: RFC3339Nano
// for values we wrote, "2006-01-02 15:04:05" for CURRENT_TIMESTAMP defaults.
func parseTime(s string) time.Time {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	log.Warnf("failed to parse timestamp '%s' with all known formats", s)
	return time.Now()
}
