// Package persistence snapshots the in-memory store to disk and runs the periodic
// maintenance jobs of every backend.
package persistence

import (
	"fmt"
	"freshanon/internal/models"
	"freshanon/internal/providers"
	"freshanon/internal/storage"
	json "github.com/goccy/go-json"
	"os"
)

// FileManager writes zstd-compressed JSON dumps of a storage.Dumper.
type FileManager struct {
	dumper     storage.Dumper
	compressor Compressor
	logger     providers.Logger
}

func NewFileManager(compressor Compressor, dumper storage.Dumper, logger providers.Logger) *FileManager {
	return &FileManager{
		compressor: compressor,
		dumper:     dumper,
		logger:     logger,
	}
}

// SaveToFile replaces fileName atomically through a temp file and rename.
func (f *FileManager) SaveToFile(fileName string) error {
	dump := f.dumper.Dump()

	jsonData, err := json.Marshal(dump)
	if err != nil {
		return err
	}
	data, err := f.compressor.Compress(jsonData)
	if err != nil {
		return err
	}

	tmpFile := fileName + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	if err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		return err
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		return err
	}

	return os.Rename(tmpFile, fileName)
}

// LoadFromFile restores a dump. A missing file is a fresh start, not an error.
func (f *FileManager) LoadFromFile(fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	decompressedData, err := f.compressor.Decompress(data)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", fileName, err)
	}

	var dump models.StoreDump
	if err := json.Unmarshal(decompressedData, &dump); err != nil {
		return fmt.Errorf("decode %s: %w", fileName, err)
	}
	if err := f.dumper.Load(&dump); err != nil {
		return err
	}
	f.logger.Infof(providers.TypeStore, "Restored %d waiting, %d sessions, %d rematch records from %s",
		len(dump.Waiting), len(dump.Sessions), len(dump.Rematch), fileName)
	return nil
}
