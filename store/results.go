package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

const resultsSchema = "dock_result_v2"

// ResultRow is the best pose of one search task for one ligand.
type ResultRow struct {
	Ligand       string    `parquet:"ligand,dict"`
	Launch       int32     `parquet:"launch"`
	Task         int32     `parquet:"task"`
	Rank         int32     `parquet:"rank"`
	Energy       float32   `parquet:"energy"`
	Seed         int64     `parquet:"seed"`
	Salt         uint64    `parquet:"salt"`
	Conformation []float32 `parquet:"conformation"`
}

// ResultWriter streams result rows into outDir/tmp and moves the finished
// batch into outDir on Finalize.
type ResultWriter struct {
	tmpPath string
	outPath string

	file   *os.File
	writer *parquet.GenericWriter[ResultRow]

	rows int
}

// NewResultWriter opens a new batch file under outDir.
func NewResultWriter(outDir string) (*ResultWriter, error) {
	if outDir == "" {
		return nil, fmt.Errorf("outDir is required")
	}

	absOut, err := filepath.Abs(outDir)
	if err != nil {
		absOut = outDir
	}
	tmpDir := filepath.Join(absOut, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tmp dir: %w", err)
	}

	name := fmt.Sprintf("results_%d.parquet", time.Now().UnixNano())
	tmpPath := filepath.Join(tmpDir, name)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open tmp parquet: %w", err)
	}

	w := parquet.NewGenericWriter[ResultRow](
		f,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
	)
	w.SetKeyValueMetadata("schema", resultsSchema)

	return &ResultWriter{
		tmpPath: tmpPath,
		outPath: filepath.Join(absOut, name),
		file:    f,
		writer:  w,
	}, nil
}

func (w *ResultWriter) OutPath() string { return w.outPath }
func (w *ResultWriter) Rows() int       { return w.rows }

// WriteRows appends rows to the batch.
func (w *ResultWriter) WriteRows(rows []ResultRow) error {
	if w.writer == nil {
		return fmt.Errorf("result writer is closed")
	}
	if len(rows) == 0 {
		return nil
	}
	if _, err := w.writer.Write(rows); err != nil {
		return err
	}
	w.rows += len(rows)
	return nil
}

// Finalize closes the batch and renames it into place. An empty batch is
// removed and reported with an empty path.
func (w *ResultWriter) Finalize() (outPath string, rows int, err error) {
	if w.writer == nil && w.file == nil {
		return "", 0, nil
	}

	var closeErr error
	if w.writer != nil {
		closeErr = w.writer.Close()
		w.writer = nil
	}
	var fileErr error
	if w.file != nil {
		_ = w.file.Sync()
		fileErr = w.file.Close()
		w.file = nil
	}
	if closeErr != nil {
		_ = os.Remove(w.tmpPath)
		return "", 0, fmt.Errorf("close parquet writer: %w", closeErr)
	}
	if fileErr != nil {
		_ = os.Remove(w.tmpPath)
		return "", 0, fmt.Errorf("close parquet file: %w", fileErr)
	}

	if w.rows == 0 {
		_ = os.Remove(w.tmpPath)
		return "", 0, nil
	}
	if err := os.Rename(w.tmpPath, w.outPath); err != nil {
		return "", 0, fmt.Errorf("rename parquet: %w", err)
	}
	return w.outPath, w.rows, nil
}

// WriteResultsAtomic writes rows as a single new batch in outDir.
func WriteResultsAtomic(outDir string, rows []ResultRow) (string, error) {
	w, err := NewResultWriter(outDir)
	if err != nil {
		return "", err
	}
	if err := w.WriteRows(rows); err != nil {
		_, _, _ = w.Finalize()
		return "", err
	}
	path, _, err := w.Finalize()
	return path, err
}

// ReadResults loads a batch written by ResultWriter.
func ReadResults(path string) ([]ResultRow, error) {
	return readFile[ResultRow](path, resultsSchema)
}
