package influx

import (
	"bufio"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/markerlens/tracker/internal/config"
	"github.com/markerlens/tracker/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stat = model.SessionStat{
	Time:          time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	SessionID:     "abc",
	Connection:    "open",
	Overlays:      2,
	FramesSampled: 10,
	FramesSent:    9,
	FramesDropped: 1,
	Batches:       8,
	Reconnects:    3,
}

func configFor(t *testing.T, srv *httptest.Server) config.InfluxConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return config.InfluxConfig{
		Enabled:  true,
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Token:    "token",
		Org:      "markerlens",
		Bucket:   "session_stats",
	}
}

func TestStatPoint(t *testing.T) {
	p := StatPoint(stat)
	assert.Equal(t, Measurement, p.Name())
	assert.Equal(t, stat.Time, p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"session": "abc", "connection": "open"}, tags)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Len(t, fields, 7)
	assert.EqualValues(t, 2, fields["overlays"])
	assert.EqualValues(t, 3, fields["reconnects"])
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, zerolog.Nop(), "")
	assert.Error(t, m.Connect(context.Background()))
}

func TestConnect_UnreachableUsesBackup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	backup := filepath.Join(t.TempDir(), "influx_backup.log.gz")
	m := NewManager(configFor(t, srv), zerolog.Nop(), backup)
	require.NoError(t, m.Connect(context.Background()))
	assert.False(t, m.IsValid)
	require.NotNil(t, m.BackupWriter)

	require.NoError(t, m.WriteStat(context.Background(), stat))
	require.NoError(t, m.WriteStat(context.Background(), stat))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)

	var lines []string
	sc := bufio.NewScanner(gz)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], Measurement+","), lines[0])
	assert.Contains(t, lines[0], "session=abc")
	assert.Contains(t, lines[0], "frames_sent=9")
}

func TestWritePoint_NoBackend(t *testing.T) {
	m := NewManager(config.InfluxConfig{Bucket: "b"}, zerolog.Nop(), "")
	assert.Error(t, m.WriteStat(context.Background(), stat))
}

// fakeInflux answers the handful of v2 API calls Connect and the write API make.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeInflux) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v2/orgs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"orgs":[{"id":"0000000000000001","name":"markerlens"}]}`)
	})
	mux.HandleFunc("/api/v2/buckets", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"buckets":[{"id":"0000000000000002","name":"session_stats","retentionRules":[]}]}`)
	})
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "")
}

func TestConnect_WritesToServer(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	m := NewManager(configFor(t, srv), zerolog.Nop(), filepath.Join(t.TempDir(), "unused.gz"))
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsValid)
	assert.Nil(t, m.BackupWriter)
	assert.Contains(t, m.Writers, "session_stats")

	require.NoError(t, m.WriteStat(context.Background(), stat))
	assert.Error(t, m.WritePoint(context.Background(), "other", StatPoint(stat)))
	require.NoError(t, m.Close())

	assert.Contains(t, fake.body(), "session=abc")
	assert.False(t, m.IsValid)
}
