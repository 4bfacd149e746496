// Package store persists received samples: a daily-rotated CSV log on disk
// and a batched Postgres sink.
package store

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/luki/simtemp/internal/sample"
)

const (
	// DefaultDirName is the data directory under the user's home.
	DefaultDirName = ".simtemp-data"
	timeLayout     = "2006-01-02T15:04:05.000"
	fileLayout     = "2006-01-02"
)

var header = []string{"time", "device", "timestamp_ns", "temp_mC", "flags"}

// Record is one sample as received by a consumer.
type Record struct {
	Time   time.Time // wall time of receipt
	Device string
	Sample sample.Sample
}

// Sink receives batches of records.
type Sink interface {
	Name() string
	WriteBatch(recs []Record) error
	Close() error
}

// DiskStore writes records to <dir>/YYYY-MM-DD.csv:
//
//	time,device,timestamp_ns,temp_mC,flags
type DiskStore struct {
	dir     string
	current *os.File
	writer  *csv.Writer
	curDate string
}

// New creates a disk store in dir, creating it if needed. An empty dir
// selects DataDir().
func New(dir string) (*DiskStore, error) {
	if dir == "" {
		dir = DataDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the directory files are written to.
func (d *DiskStore) Dir() string { return d.dir }

// Name identifies the sink in logs.
func (d *DiskStore) Name() string { return "csv" }

// WriteBatch appends records to the file of each record's day.
func (d *DiskStore) WriteBatch(recs []Record) error {
	for _, r := range recs {
		if err := d.rotate(r.Time); err != nil {
			return err
		}
		d.writer.Write([]string{
			r.Time.Format(timeLayout),
			r.Device,
			strconv.FormatUint(r.Sample.Timestamp, 10),
			strconv.FormatInt(int64(r.Sample.TempMC), 10),
			strconv.FormatUint(uint64(r.Sample.Flags), 10),
		})
	}
	if d.writer == nil {
		return nil
	}
	d.writer.Flush()
	return d.writer.Error()
}

func (d *DiskStore) rotate(t time.Time) error {
	dateStr := t.Format(fileLayout)
	if d.curDate == dateStr && d.current != nil {
		return nil
	}

	d.Close()
	path := filepath.Join(d.dir, dateStr+".csv")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("store: open %s: %w", path, err)
	}
	d.current = f
	d.writer = csv.NewWriter(f)
	d.curDate = dateStr

	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		d.writer.Write(header)
	}
	return nil
}

// Close flushes and closes the current file.
func (d *DiskStore) Close() error {
	if d.writer != nil {
		d.writer.Flush()
	}
	if d.current == nil {
		return nil
	}
	err := d.current.Close()
	d.current = nil
	return err
}

// ListDays returns available log dates, newest first.
func ListDays(dir string) ([]string, error) {
	if dir == "" {
		dir = DataDir()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var days []string
	for i := len(entries) - 1; i >= 0; i-- {
		name := entries[i].Name()
		if strings.HasSuffix(name, ".csv") {
			days = append(days, strings.TrimSuffix(name, ".csv"))
		}
	}
	return days, nil
}

// LoadDay reads every record of one day from dir.
func LoadDay(dir, day string) ([]Record, error) {
	if dir == "" {
		dir = DataDir()
	}
	return LoadFile(filepath.Join(dir, day+".csv"))
}

// LoadFile reads every record from a CSV file. Malformed rows are skipped.
func LoadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	var recs []Record
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == header[0] {
			continue
		}
		if len(row) < len(header) {
			continue
		}

		t, err := time.ParseInLocation(timeLayout, row[0], time.Local)
		if err != nil {
			continue
		}
		ts, err1 := strconv.ParseUint(row[2], 10, 64)
		temp, err2 := strconv.ParseInt(row[3], 10, 32)
		flags, err3 := strconv.ParseUint(row[4], 10, 32)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}

		recs = append(recs, Record{
			Time:   t,
			Device: row[1],
			Sample: sample.Sample{Timestamp: ts, TempMC: int32(temp), Flags: sample.Flags(flags)},
		})
	}

	return recs, nil
}

// DataDir returns the default data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

var _ Sink = (*DiskStore)(nil)
