package parquet

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
	"github.com/xtxerr/axislog/internal/storage/types"
)

// RowReader reads log rows from a Parquet file.
type RowReader struct {
	file   *os.File
	reader *parquet.GenericReader[ReadingRow]
	path   string
}

// NewRowReader opens a Parquet file for reading.
func NewRowReader(path string) (*RowReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	// The generic reader panics on a malformed footer
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size(), parquet.ReadBufferSize(1024*1024))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	return &RowReader{
		file:   f,
		reader: parquet.NewGenericReader[ReadingRow](pf),
		path:   path,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once the file is exhausted.
func (r *RowReader) Read(n int) ([]types.Row, error) {
	buf := make([]ReadingRow, n)
	count, err := r.reader.Read(buf)
	if err != nil && !(errors.Is(err, io.EOF) && count > 0) {
		return nil, err
	}

	rows := make([]types.Row, count)
	for i := 0; i < count; i++ {
		rows[i] = FromReadingRow(&buf[i])
	}
	return rows, nil
}

// ReadAll reads all rows from the file.
func (r *RowReader) ReadAll() ([]types.Row, error) {
	var rows []types.Row
	for {
		batch, err := r.Read(1024)
		rows = append(rows, batch...)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return rows, nil
		}
	}
}

// NumRows returns the total number of rows in the file.
func (r *RowReader) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *RowReader) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *RowReader) Path() string {
	return r.path
}

// ReadFile reads every row of the Parquet file at path.
func ReadFile(path string) ([]types.Row, error) {
	r, err := NewRowReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.ReadAll()
}

// FileInfo holds information about a Parquet file.
type FileInfo struct {
	Path    string
	Size    int64
	NumRows int64
	NumCols int
}

// GetFileInfo returns information about a Parquet file.
func GetFileInfo(path string) (*FileInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}

	return &FileInfo{
		Path:    path,
		Size:    stat.Size(),
		NumRows: pf.NumRows(),
		NumCols: len(pf.Schema().Fields()),
	}, nil
}
