// Package sqlite persists the alarm queue in a sqlite database. The
// working set lives in an embedded mem.Queue; Save rewrites the events
// table from it inside a single transaction. The daemon debounces Save
// calls, so full rewrites stay cheap at alarm-queue sizes.
package sqlite

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"bsid.es/alarmd"
	"bsid.es/alarmd/mem"
	"bsid.es/alarmd/sqlite/migration"
)

const snoozeKey = "snooze"

type Queue struct {
	*mem.Queue

	mu   sync.Mutex
	conn *sqlite.Conn
}

var _ alarmd.Queue = (*Queue)(nil)

// OpenQueue opens or creates the database at path, applies pending
// migrations and loads the stored events.
func OpenQueue(path string) (*Queue, error) {
	conn, err := sqlite.OpenConn(path, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := Migrate(conn, migration.Scripts); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	q := &Queue{Queue: mem.NewQueue(), conn: conn}
	if err := q.load(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return q, nil
}

func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.conn.Close()
}

func (q *Queue) load() error {
	err := sqlitex.Exec(q.conn, "select body from events order by cookie", func(stmt *sqlite.Stmt) error {
		var ev alarmd.AlarmEvent
		if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		q.Queue.Restore(&ev)
		return nil
	})
	if err != nil {
		return err
	}

	err = sqlitex.Exec(q.conn, "select value from config where key = ?", func(stmt *sqlite.Stmt) error {
		q.Queue.SetDefaultSnooze(time.Duration(stmt.ColumnInt64(0)))
		return nil
	}, snoozeKey)
	if err != nil {
		return err
	}

	q.Queue.ClearDirty()
	return nil
}

// Save rewrites the persistent state from the in-memory working set.
func (q *Queue) Save() (err error) {
	events := q.Queue.Snapshot()
	snooze := q.Queue.DefaultSnooze()

	q.mu.Lock()
	defer q.mu.Unlock()

	release := sqlitex.Save(q.conn)
	defer release(&err)

	if err = sqlitex.Exec(q.conn, "delete from events", nil); err != nil {
		return err
	}
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event %d: %w", ev.Cookie, err)
		}
		err = sqlitex.Exec(q.conn,
			"insert into events (cookie, state, trigger_at, app_id, body) values (?, ?, ?, ?, ?)",
			nil,
			int64(ev.Cookie), int64(ev.State), ev.Trigger.Unix(), ev.AppID, string(body),
		)
		if err != nil {
			return err
		}
	}

	return sqlitex.Exec(q.conn,
		"insert into config (key, value) values (?, ?) on conflict (key) do update set value = excluded.value",
		nil,
		snoozeKey, int64(snooze),
	)
}
