package audit

import (
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type writeOp struct {
	query string
	args  []any
}

// batchWriter batches inserts into a single transaction per flush.
type batchWriter struct {
	db          *sql.DB
	buffer      []writeOp
	mu          sync.Mutex
	maxSize     int
	flushIntval time.Duration
	done        chan struct{}
	wg          sync.WaitGroup

	totalWrites  uint64
	totalBatches uint64
	totalErrors  uint64
}

func newBatchWriter(db *sql.DB, maxSize int, interval time.Duration) *batchWriter {
	if maxSize <= 0 {
		maxSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	bw := &batchWriter{
		db:          db,
		buffer:      make([]writeOp, 0, maxSize),
		maxSize:     maxSize,
		flushIntval: interval,
		done:        make(chan struct{}),
	}

	bw.wg.Add(1)
	go bw.backgroundFlush()

	return bw
}

func (bw *batchWriter) add(op writeOp) {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, op)
	shouldFlush := len(bw.buffer) >= bw.maxSize
	bw.mu.Unlock()

	if shouldFlush {
		if err := bw.flush(); err != nil {
			log.Printf("audit: batch flush error: %v", err)
		}
	}
}

func (bw *batchWriter) flush() error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	ops := bw.buffer
	bw.buffer = make([]writeOp, 0, bw.maxSize)
	bw.mu.Unlock()

	return bw.executeBatch(ops)
}

func (bw *batchWriter) executeBatch(ops []writeOp) error {
	atomic.AddUint64(&bw.totalWrites, uint64(len(ops)))
	atomic.AddUint64(&bw.totalBatches, 1)

	tx, err := bw.db.Begin()
	if err != nil {
		atomic.AddUint64(&bw.totalErrors, 1)
		return err
	}

	for _, op := range ops {
		if _, err := tx.Exec(op.query, op.args...); err != nil {
			_ = tx.Rollback()
			atomic.AddUint64(&bw.totalErrors, 1)
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		atomic.AddUint64(&bw.totalErrors, 1)
		return err
	}
	return nil
}

func (bw *batchWriter) backgroundFlush() {
	defer bw.wg.Done()
	ticker := time.NewTicker(bw.flushIntval)
	defer ticker.Stop()

	for {
		select {
		case <-bw.done:
			if err := bw.flush(); err != nil {
				log.Printf("audit: final flush error: %v", err)
			}
			return
		case <-ticker.C:
			if err := bw.flush(); err != nil {
				log.Printf("audit: periodic flush error: %v", err)
			}
		}
	}
}

func (bw *batchWriter) close() error {
	close(bw.done)
	bw.wg.Wait()
	return nil
}
