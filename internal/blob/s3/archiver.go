package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polyoptions/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the transfer manager.
	multipartThreshold = 64 * 1024 * 1024
)

// TradeSource lists trades for archival.
type TradeSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// OrderSource lists terminal orders for archival.
type OrderSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error)
}

// Pruner deletes records that were archived. Stores that do not implement
// it keep their rows.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

var _ domain.Archiver = (*Archiver)(nil)

// Archiver copies old trades and orders to object storage as JSONL and then
// prunes them from the primary store.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeSource
	orders OrderSource
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, trades TradeSource, orders OrderSource, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		orders: orders,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads trades executed before the cutoff and returns the
// number archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	return archive(ctx, a, "trades", before, trades, a.trades)
}

// ArchiveOrders uploads terminal orders created before the cutoff and
// returns the number archived.
func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, "orders", before, orders, a.orders)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T, source any) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}
	count := int64(len(records))

	var pruned int64
	if p, ok := source.(Pruner); ok {
		if pruned, err = p.DeleteBefore(ctx, before); err != nil {
			a.logger.WarnContext(ctx, "archiver: prune failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"pruned": pruned,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			a.logger.WarnContext(ctx, "archiver: audit log failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "archiver: records archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
		slog.Int64("pruned", pruned),
	)
	return count, nil
}

// archivePath partitions archives by month of the cutoff and names each
// file by the cutoff instant so repeated runs never overwrite.
//
//	archive/trades/2026-10/20261018T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	b := before.UTC()
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, b.Format("2006-01"), b.Format("20060102T150405Z"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
