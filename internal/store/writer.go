package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/records"
)

// schemaWriter writes one batch inside an open transaction.
type schemaWriter interface {
	write(ctx context.Context, s *Store, tx *sql.Tx, b Batch) (Receipt, error)
}

func writerFor(schema records.Schema) (schemaWriter, error) {
	switch schema {
	case records.SchemaHeaderDetail:
		return headerDetailWriter{}, nil
	case records.SchemaNormalized:
		return normalizedWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported storage schema %s", schema)
	}
}

type headerDetailWriter struct{}

func (headerDetailWriter) write(ctx context.Context, s *Store, tx *sql.Tx, b Batch) (Receipt, error) {
	var rev int
	q := s.rebind("SELECT COALESCE(MAX(revision), 0) FROM labels WHERE vendor = ?")
	if err := tx.QueryRowContext(ctx, q, b.Vendor).Scan(&rev); err != nil {
		return Receipt{}, fmt.Errorf("reading revision: %w", err)
	}
	rev++

	count := len(b.Records)
	if b.Qty > 0 {
		count = b.Qty
	}
	id := batchID(b)

	var labelID int64
	q = s.rebind(`INSERT INTO labels (vendor, revision, barcode_count, result_id)
		VALUES (?, ?, ?, ?) RETURNING id`)
	if err := tx.QueryRowContext(ctx, q, b.Vendor, rev, count, id).Scan(&labelID); err != nil {
		return Receipt{}, fmt.Errorf("inserting label: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO label_barcodes
		(label_id, read_order, content, meaning, symbology, x, y, length)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return Receipt{}, fmt.Errorf("preparing barcode insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range b.Records {
		if _, err := stmt.ExecContext(ctx, labelID, r.Order, r.Content, r.Meaning, r.Symbology, r.X, r.Y, r.Length); err != nil {
			return Receipt{}, fmt.Errorf("inserting barcode %d: %w", r.Order, err)
		}
	}
	return Receipt{BatchID: id, Revision: rev, BarcodeCount: count, Records: len(b.Records)}, nil
}

type normalizedWriter struct{}

// write stores one position row per record under a fresh batch id, so the
// same analysis can be submitted again. The analysis id goes to result_id.
func (normalizedWriter) write(ctx context.Context, s *Store, tx *sql.Tx, b Batch) (Receipt, error) {
	id := uuid.NewString()
	var resultID sql.NullString
	if b.ResultID != "" {
		resultID = sql.NullString{String: b.ResultID, Valid: true}
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO barcode_positions
		(batch_id, result_id, vendor, read_order, content, meaning, symbology, normalized_x, normalized_y, length)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return Receipt{}, fmt.Errorf("preparing position insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range b.Records {
		if _, err := stmt.ExecContext(ctx, id, resultID, b.Vendor, r.Order, r.Content, r.Meaning, r.Symbology, r.X, r.Y, r.Length); err != nil {
			return Receipt{}, fmt.Errorf("inserting position %d: %w", r.Order, err)
		}
	}
	return Receipt{BatchID: id, BarcodeCount: len(b.Records), Records: len(b.Records)}, nil
}
