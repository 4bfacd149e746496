package store

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/luki/simtemp/internal/sample"
)

func testRecords(at time.Time) []Record {
	return []Record{
		{Time: at, Device: "dev-a", Sample: sample.Sample{Timestamp: 1000, TempMC: 40000, Flags: sample.FlagNew}},
		{Time: at.Add(100 * time.Millisecond), Device: "dev-a", Sample: sample.Sample{
			Timestamp: 2000, TempMC: 46000, Flags: sample.FlagNew | sample.FlagThresholdCrossed,
		}},
	}
}

func TestDiskStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	ds, err := New(dir)
	require.NoError(t, err)
	defer ds.Close()

	now := time.Date(2026, 2, 21, 14, 30, 0, 0, time.Local)
	require.NoError(t, ds.WriteBatch(testRecords(now)))
	ds.Close()

	loaded, err := LoadDay(dir, "2026-02-21")
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	require.Equal(t, "dev-a", loaded[0].Device)
	require.Equal(t, int32(40000), loaded[0].Sample.TempMC)
	require.True(t, loaded[1].Sample.Crossed())
	require.Equal(t, uint64(2000), loaded[1].Sample.Timestamp)
	require.True(t, loaded[1].Time.Equal(now.Add(100*time.Millisecond)), "millisecond time lost: %v", loaded[1].Time)
}

func TestDiskStoreRotatesDaily(t *testing.T) {
	dir := t.TempDir()
	ds, _ := New(dir)
	defer ds.Close()

	day1 := time.Date(2026, 3, 1, 23, 59, 59, 0, time.Local)
	recs := []Record{
		{Time: day1, Sample: sample.Sample{Timestamp: 1}},
		{Time: day1.Add(2 * time.Second), Sample: sample.Sample{Timestamp: 2}},
	}
	require.NoError(t, ds.WriteBatch(recs))
	ds.Close()

	days, err := ListDays(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"2026-03-02", "2026-03-01"}, days)
}

func TestLoadFileSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.csv")
	content := "time,device,timestamp_ns,temp_mC,flags\n" +
		"garbage,dev,1,2,3\n" +
		"2026-01-01T00:00:00.000,dev,1,notanumber,1\n" +
		"2026-01-01T00:00:01.000,dev,5,41000,1\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	recs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int32(41000), recs[0].Sample.TempMC)
}

func TestPostgresSinkWriteBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	sink := NewPostgresSink(db, "samples")
	now := time.Now()
	recs := testRecords(now)

	expected := regexp.QuoteMeta("INSERT INTO samples (received_at, device, timestamp_ns, temp_mc, flags) VALUES " +
		"($1,$2,$3,$4,$5),($6,$7,$8,$9,$10) ON CONFLICT (device, timestamp_ns) DO NOTHING")
	mock.ExpectExec(expected).
		WithArgs(
			recs[0].Time, "dev-a", int64(1000), int32(40000), int64(1),
			recs[1].Time, "dev-a", int64(2000), int32(46000), int64(3),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, sink.WriteBatch(recs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkEmptyBatch(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	require.NoError(t, NewPostgresSink(db, "samples").WriteBatch(nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSinkWrapsError(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO samples").WillReturnError(boom)

	err := NewPostgresSink(db, "samples").WriteBatch(testRecords(time.Now())[:1])
	require.ErrorIs(t, err, boom)
}

func TestPostgresSinkMigrate(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS samples").WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, NewPostgresSink(db, "samples").Migrate())
	require.NoError(t, mock.ExpectationsWereMet())
}
