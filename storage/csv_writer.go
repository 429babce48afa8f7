package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"abceats/models"
	"abceats/utils"
)

// CSVWriter archives raw inspection rows to a CSV file, one refresh per file
type CSVWriter struct {
	filePath string
	logger   *utils.Logger

	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	rows   int
}

// NewCSVWriter creates a new CSVWriter
func NewCSVWriter(filePath string, logger *utils.Logger) *CSVWriter {
	return &CSVWriter{filePath: filePath, logger: logger}
}

// Begin truncates the archive and writes the header
func (w *CSVWriter) Begin() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.closeLocked()
	}

	dir := filepath.Dir(w.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}

	w.file = file
	w.writer = csv.NewWriter(file)
	w.rows = 0
	if err := w.writer.Write(models.SelectColumns); err != nil {
		w.closeLocked()
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	return nil
}

// WriteRows appends one page of rows
func (w *CSVWriter) WriteRows(rows []models.InspectionRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return fmt.Errorf("CSV archive %s is not open", w.filePath)
	}
	for _, r := range rows {
		if err := w.writer.Write(r.Values()); err != nil {
			return fmt.Errorf("failed to write CSV row for camis %s: %w", r.Camis, err)
		}
	}
	w.writer.Flush()
	if err := w.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	w.rows += len(rows)
	return nil
}

// Close flushes and closes the current archive
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.closeLocked()
	w.logger.Info("Raw rows written to: %s (%d rows)", w.filePath, w.rows)
	return err
}

func (w *CSVWriter) closeLocked() error {
	w.writer.Flush()
	flushErr := w.writer.Error()
	closeErr := w.file.Close()
	w.file, w.writer = nil, nil
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
