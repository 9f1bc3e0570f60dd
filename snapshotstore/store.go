// Package snapshotstore keeps named snapshots of a machine in a SQLite
// database.
package snapshotstore

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"

	"github.com/sarchlab/chipsim/sim/state"
	"github.com/sarchlab/chipsim/sim/timing"
)

// ErrNotFound is returned when no snapshot has the requested label.
var ErrNotFound = errors.New("snapshotstore: snapshot not found")

// Info describes a stored snapshot.
type Info struct {
	ID      string
	Label   string
	Machine string
	Version string
	SimTime string
	Created time.Time
	Size    int
	Items   int
}

// A Machine is something that can be snapshotted, typically a
// *simulation.Simulation.
type Machine interface {
	Name() string
	Version() string
	Now() timing.VTime
	Save(w io.Writer) error
	Restore(r io.Reader) error
}

// Store is a set of snapshots, each kept under a unique label.
type Store struct {
	db *sql.DB
}

const schema = `CREATE TABLE IF NOT EXISTS snapshot (
	ID TEXT PRIMARY KEY,
	Label TEXT NOT NULL UNIQUE,
	Machine TEXT NOT NULL,
	Version TEXT NOT NULL,
	SimTime TEXT NOT NULL,
	Created INTEGER NOT NULL,
	Items INTEGER NOT NULL,
	Data BLOB NOT NULL
);`

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	return OpenWithDB(db)
}

// OpenWithDB uses an existing database connection.
func OpenWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshotstore: creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a snapshot under label, replacing any snapshot with the same
// label. The data must be a valid snapshot.
func (s *Store) Put(
	ctx context.Context,
	label, machine string,
	simTime timing.VTime,
	data []byte,
) (Info, error) {
	m, err := state.ReadManifest(bytes.NewReader(data))
	if err != nil {
		return Info{}, err
	}

	info := Info{
		ID:      xid.New().String(),
		Label:   label,
		Machine: machine,
		Version: m.Version,
		SimTime: simTime.String(),
		Created: time.Now().UTC().Truncate(time.Second),
		Size:    len(data),
		Items:   len(m.Items),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshot
			(ID, Label, Machine, Version, SimTime, Created, Items, Data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(Label) DO UPDATE SET
			ID = excluded.ID,
			Machine = excluded.Machine,
			Version = excluded.Version,
			SimTime = excluded.SimTime,
			Created = excluded.Created,
			Items = excluded.Items,
			Data = excluded.Data`,
		info.ID, info.Label, info.Machine, info.Version, info.SimTime,
		info.Created.Unix(), info.Items, data)
	if err != nil {
		return Info{}, fmt.Errorf("snapshotstore: saving %s: %w", label, err)
	}

	return info, nil
}

// Save takes a snapshot of the machine and stores it under label. The
// machine must be at a timeslice boundary.
func (s *Store) Save(ctx context.Context, label string, m Machine) (Info, error) {
	buf := new(bytes.Buffer)
	if err := m.Save(buf); err != nil {
		return Info{}, err
	}

	return s.Put(ctx, label, m.Name(), m.Now(), buf.Bytes())
}

// Get returns the bytes of the snapshot stored under label.
func (s *Store) Get(ctx context.Context, label string) (Info, []byte, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT ID, Label, Machine, Version, SimTime, Created, Items, Data
		FROM snapshot WHERE Label = ?`, label)

	var (
		info    Info
		created int64
		data    []byte
	)

	err := row.Scan(&info.ID, &info.Label, &info.Machine, &info.Version,
		&info.SimTime, &created, &info.Items, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, label)
	}

	if err != nil {
		return Info{}, nil, err
	}

	info.Created = time.Unix(created, 0).UTC()
	info.Size = len(data)

	return info, data, nil
}

// Load restores the snapshot stored under label into the machine.
func (s *Store) Load(ctx context.Context, label string, m Machine) (Info, error) {
	info, data, err := s.Get(ctx, label)
	if err != nil {
		return Info{}, err
	}

	if err := m.Restore(bytes.NewReader(data)); err != nil {
		return Info{}, fmt.Errorf("restoring %s: %w", label, err)
	}

	return info, nil
}

// List returns all snapshots, oldest first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ID, Label, Machine, Version, SimTime, Created, Items,
			length(Data)
		FROM snapshot ORDER BY Created, ID`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	infos := []Info{}

	for rows.Next() {
		var (
			info    Info
			created int64
		)

		err := rows.Scan(&info.ID, &info.Label, &info.Machine, &info.Version,
			&info.SimTime, &created, &info.Items, &info.Size)
		if err != nil {
			return nil, err
		}

		info.Created = time.Unix(created, 0).UTC()
		infos = append(infos, info)
	}

	return infos, rows.Err()
}

// Delete removes the snapshot stored under label.
func (s *Store) Delete(ctx context.Context, label string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshot WHERE Label = ?`, label)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, label)
	}

	return nil
}
