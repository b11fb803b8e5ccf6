// internal/journal/journal.go
package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/types"
)

var header = []string{
	"finished_at", "opportunity_id", "kind", "fingerprint", "state",
	"legs_completed", "amount_in", "realized_in", "realized_out",
	"fees_lamports", "profit_lamports", "signatures", "error",
}

// Journal пишет итоги исполнений в CSV-файл с периодическим сбросом
// буфера. Запись не должна тормозить конвейер исполнения, поэтому
// ошибки журнала только логируются.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	logger *zap.Logger

	ticker *time.Ticker
	done   chan struct{}
	closed bool

	writtenRows uint64
}

// New открывает журнал на дозапись; в пустой файл пишется заголовок.
func New(path string, flushInterval time.Duration, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	j := &Journal{
		file:   file,
		writer: csv.NewWriter(file),
		logger: logger.Named("journal"),
		ticker: time.NewTicker(flushInterval),
		done:   make(chan struct{}),
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat journal file: %w", err)
	}
	if info.Size() == 0 {
		if err := j.writer.Write(header); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("write journal header: %w", err)
		}
		j.writer.Flush()
	}

	go j.flushLoop()
	return j, nil
}

// RecordResult дописывает строку по итогу исполнения.
func (j *Journal) RecordResult(result *types.ExecutionResult) {
	row := formatRow(result)

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if err := j.writer.Write(row); err != nil {
		j.logger.Warn("Failed to append journal row", zap.Error(err))
		return
	}
	j.writtenRows++
}

// Flush сбрасывает буфер на диск.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.writer.Flush()
	return j.writer.Error()
}

// Close останавливает периодический сброс и закрывает файл.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	j.ticker.Stop()
	close(j.done)

	j.writer.Flush()
	flushErr := j.writer.Error()

	j.logger.Info("Journal closed", zap.Uint64("rows", j.writtenRows))
	if err := j.file.Close(); err != nil {
		return err
	}
	return flushErr
}

func (j *Journal) flushLoop() {
	for {
		select {
		case <-j.ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Warn("Journal flush failed", zap.Error(err))
			}
		case <-j.done:
			return
		}
	}
}

func formatRow(result *types.ExecutionResult) []string {
	op := result.Opportunity

	signatures := make([]string, 0, len(result.Signatures))
	for _, sig := range result.Signatures {
		signatures = append(signatures, sig.String())
	}

	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}

	finished := result.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}

	return []string{
		finished.UTC().Format(time.RFC3339),
		op.ID,
		op.Kind.String(),
		op.Fingerprint(),
		string(result.State),
		strconv.Itoa(result.LegsCompleted),
		strconv.FormatUint(op.AmountIn, 10),
		strconv.FormatUint(result.RealizedIn, 10),
		strconv.FormatUint(result.RealizedOut, 10),
		strconv.FormatUint(result.FeesLamports, 10),
		strconv.FormatInt(result.ProfitLamports, 10),
		strings.Join(signatures, ";"),
		errText,
	}
}
