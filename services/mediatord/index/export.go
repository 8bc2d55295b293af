package index

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// ExportFilter selects the messages written by Export.
type ExportFilter struct {
	Chain  string
	Status string
	Token  string
	Since  time.Time
}

// ExportResult names the files written by Export.
type ExportResult struct {
	CSVPath     string
	ParquetPath string
	Rows        int
}

// Export writes the selected messages, oldest first, as <name>.csv and
// <name>.parquet under dir.
func (i *Index) Export(ctx context.Context, dir, name string, f ExportFilter) (ExportResult, error) {
	rows, err := i.exportRows(ctx, f)
	if err != nil {
		return ExportResult{}, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return ExportResult{}, fmt.Errorf("export: create dir: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "messages_" + i.now().UTC().Format("20060102T150405Z")
	}
	result := ExportResult{
		CSVPath:     filepath.Join(dir, name+".csv"),
		ParquetPath: filepath.Join(dir, name+".parquet"),
		Rows:        len(rows),
	}
	if err := writeCSV(result.CSVPath, rows); err != nil {
		return ExportResult{}, err
	}
	if err := writeParquet(result.ParquetPath, rows); err != nil {
		return ExportResult{}, err
	}
	i.logger.Info("index export written", "csv", result.CSVPath, "parquet", result.ParquetPath, "rows", len(rows))
	return result, nil
}

func (i *Index) exportRows(ctx context.Context, f ExportFilter) ([]MessageRow, error) {
	q := i.db.WithContext(ctx).Model(&MessageRow{})
	if f.Chain != "" {
		q = q.Where("source_chain = ?", f.Chain)
	}
	if f.Status != "" {
		q = q.Where("status = ?", strings.ToUpper(f.Status))
	}
	if f.Token != "" {
		q = q.Where("token = ?", f.Token)
	}
	if !f.Since.IsZero() {
		q = q.Where("created_at >= ?", f.Since)
	}
	var rows []MessageRow
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("export: query messages: %w", err)
	}
	return rows, nil
}

var csvHeader = []string{
	"message_id", "source_chain", "destination_chain", "token", "sender", "recipient",
	"value", "manual", "status", "error", "created_at", "updated_at",
}

func writeCSV(path string, rows []MessageRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.MessageID,
			row.SourceChain,
			row.DestinationChain,
			row.Token,
			row.Sender,
			row.Recipient,
			row.Value,
			strconv.FormatBool(row.Manual),
			row.Status,
			row.Error,
			row.CreatedAt.UTC().Format(time.RFC3339),
			row.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("export: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("export: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	MessageID        string `parquet:"name=message_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	SourceChain      string `parquet:"name=source_chain, type=BYTE_ARRAY, convertedtype=UTF8"`
	DestinationChain string `parquet:"name=destination_chain, type=BYTE_ARRAY, convertedtype=UTF8"`
	Token            string `parquet:"name=token, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sender           string `parquet:"name=sender, type=BYTE_ARRAY, convertedtype=UTF8"`
	Recipient        string `parquet:"name=recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value            string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	Manual           bool   `parquet:"name=manual, type=BOOLEAN"`
	Status           string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error            string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt        int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	UpdatedAt        int64  `parquet:"name=updated_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func writeParquet(path string, rows []MessageRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			MessageID:        row.MessageID,
			SourceChain:      row.SourceChain,
			DestinationChain: row.DestinationChain,
			Token:            row.Token,
			Sender:           row.Sender,
			Recipient:        row.Recipient,
			Value:            row.Value,
			Manual:           row.Manual,
			Status:           row.Status,
			Error:            row.Error,
			CreatedAt:        row.CreatedAt.UnixMilli(),
			UpdatedAt:        row.UpdatedAt.UnixMilli(),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close parquet file: %w", err)
	}
	return nil
}
