package repository

import (
	"context"

	"github.com/chatcore/internal/apperr"
	"github.com/jackc/pgx/v5/pgxpool"
)

// instanceLockKey: ключ pg_advisory_lock ("chatcore" в ASCII).
// Очередь событий, seq и сессии живут в памяти процесса, поэтому на одну базу
// допускается ровно один экземпляр API.
const instanceLockKey int64 = 0x63686174636f7265

// InstanceLock держит advisory lock на выделенном соединении пула до Release.
type InstanceLock struct {
	conn *pgxpool.Conn
}

// AcquireInstanceLock возвращает Conflict, если базу уже держит другой экземпляр.
func AcquireInstanceLock(ctx context.Context, pool *pgxpool.Pool) (*InstanceLock, error) {
	const op = "instanceLock.Acquire"
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, classify(op, err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, instanceLockKey).Scan(&ok); err != nil {
		conn.Release()
		return nil, classify(op, err)
	}
	if !ok {
		conn.Release()
		return nil, apperr.E(apperr.Conflict, op, "another chatcore instance is using this database")
	}
	return &InstanceLock{conn: conn}, nil
}

func (l *InstanceLock) Release(ctx context.Context) error {
	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, instanceLockKey)
	l.conn.Release()
	return classify("instanceLock.Release", err)
}
