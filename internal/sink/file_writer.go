package sink

import (
	"encoding/json"
	"os"
	"sync"
)

// FileWriter appends events to JSONL files.
type FileWriter struct {
	mu       sync.Mutex
	connFile *os.File
	dispFile *os.File
	connEnc  *json.Encoder
	dispEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. dispatchPath may be empty to skip the
// dispatch audit.
func NewFileWriter(connectivityPath, dispatchPath string) (*FileWriter, error) {
	cf, err := os.Create(connectivityPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{connFile: cf, connEnc: json.NewEncoder(cf)}
	if dispatchPath != "" {
		df, err := os.Create(dispatchPath)
		if err != nil {
			cf.Close()
			return nil, err
		}
		fw.dispFile = df
		fw.dispEnc = json.NewEncoder(df)
	}
	return fw, nil
}

// WriteConnectivity implements EventWriter.
func (f *FileWriter) WriteConnectivity(row ConnectivityRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connEnc.Encode(row)
}

// WriteDispatch logs a dispatch row, if enabled.
func (f *FileWriter) WriteDispatch(row DispatchRow) error {
	if f.dispEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dispEnc.Encode(row)
}

// WriteDispatches logs multiple dispatch rows.
func (f *FileWriter) WriteDispatches(rows []DispatchRow) error {
	for _, r := range rows {
		if err := f.WriteDispatch(r); err != nil {
			return err
		}
	}
	return nil
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.connFile != nil {
		if e := f.connFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.dispFile != nil {
		if e := f.dispFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
