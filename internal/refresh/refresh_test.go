package refresh

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/fraudguard/internal/config"
	"github.com/ignite/fraudguard/internal/refdata"
)

func TestParseTorLine(t *testing.T) {
	tests := []struct {
		line string
		ip   string
		ok   bool
	}{
		{"185.220.101.34", "185.220.101.34", true},
		{"  185.220.101.34  ", "185.220.101.34", true},
		{"2a0b:f4c2::9", "2a0b:f4c2::9", true},
		{"# ExitNode list", "", false},
		{"", "", false},
		{"not-an-ip", "", false},
		{"999.1.1.1", "", false},
	}
	for _, tc := range tests {
		node, ok := parseTorLine(tc.line)
		assert.Equal(t, tc.ok, ok, tc.line)
		if tc.ok {
			assert.Equal(t, tc.ip, node.IPAddress, tc.line)
		}
	}
}

func TestNormalizeDisposableDomain(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"tempmail.io", "tempmail.io", true},
		{"TEMPMAIL.IO", "tempmail.io", true},
		{"*.guerrillamail.com", "guerrillamail.com", true},
		{"mailinator.com  # classic", "mailinator.com", true},
		{"# comment", "", false},
		{"// comment", "", false},
		{"", "", false},
		{"not a domain", "", false},
		{"nodots", "", false},
	}
	for _, tc := range tests {
		got, ok := normalizeDisposableDomain(tc.raw)
		assert.Equal(t, tc.ok, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseASNLine(t *testing.T) {
	asn, ok := parseASNLine("13335 US CLOUDFLARENET - Cloudflare, Inc.")
	require.True(t, ok)
	assert.Equal(t, int64(13335), asn.Number)
	assert.Equal(t, "US", asn.CountryCode)
	assert.Equal(t, refdata.ASNDatacenter, asn.Type)
	assert.True(t, asn.IsHosting)

	vpn, ok := parseASNLine("9009 GB M247 VPN Services Ltd")
	require.True(t, ok)
	assert.True(t, vpn.IsVPN)
	assert.Equal(t, 40, vpn.RiskWeight)

	edu, ok := parseASNLine("3 US Massachusetts Institute of Technology University")
	require.True(t, ok)
	assert.Equal(t, refdata.ASNEducation, edu.Type)

	plain, ok := parseASNLine("64496 DE Some Residential ISP GmbH")
	require.True(t, ok)
	assert.Equal(t, refdata.ASNUnknown, plain.Type)
	assert.Equal(t, 0, plain.RiskWeight)

	for _, bad := range []string{"", "garbage", "notanumber US Org", "123 usa lowercase country"} {
		_, ok := parseASNLine(bad)
		assert.False(t, ok, bad)
	}
}

func TestDisposableParseJSONFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.json")
	feed := `[ "tempmail.io", "not a domain", "GUERRILLAMAIL.COM" ]`
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o644))

	s := &DisposableSource{}
	var got []string
	err := s.parseFile(path, "test-feed", func(raw, _ string) error {
		if d, ok := normalizeDisposableDomain(raw); ok {
			got = append(got, d)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"tempmail.io", "guerrillamail.com"}, got)
}

func TestUserAgentParseFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.json")
	feed := `[
		{"pattern": "Googlebot/2.1", "name": "googlebot"},
		{"userAgent": "Scrapy/2.11", "browser": "scrapy", "version": "2.11"},
		{"pattern": ""}
	]`
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o644))

	s := &UserAgentSource{}
	var got []refdata.KnownUserAgent
	err := s.parseFeed(path, func(a refdata.KnownUserAgent) error {
		got = append(got, a)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, refdata.UABot, got[0].Type)
	assert.Equal(t, "googlebot", got[0].Name)
	assert.Equal(t, refdata.UAScraper, got[1].Type)
	assert.Equal(t, 50, got[1].RiskWeight)
}

func TestClassifyFeedAgent(t *testing.T) {
	assert.Equal(t, refdata.UABot, classifyFeedAgent("Googlebot/2.1"))
	assert.Equal(t, refdata.UAScraper, classifyFeedAgent("Scrapy/2.11"))
	assert.Equal(t, refdata.UAUnknown, classifyFeedAgent("SomethingElse/1.0"))
}

// newPipelineHarness wires a pipeline against sqlmock, miniredis and a
// stub HTTP feed server.
func newPipelineHarness(t *testing.T, feed string) (*Pipeline, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feed)
	}))
	t.Cleanup(srv.Close)

	store := refdata.NewStore(db, rdb, refdata.DefaultCacheTTLs())
	cfg := config.RefreshConfig{
		TorMinIntervalHours: 6,
		JobTimeoutSeconds:   60,
		TorSources:          []string{srv.URL},
	}
	p := NewPipeline(db, store, rdb, cfg, 0)
	return p, mock, mr
}

func TestRunSourceSkipsWhenLocked(t *testing.T) {
	p, _, mr := newPipelineHarness(t, "185.220.101.34\n")

	require.NoError(t, mr.Set("refresh:lock:tor", "someone-else"))

	report, err := p.RunOne(context.Background(), "tor", true)
	require.NoError(t, err)
	assert.True(t, report.Sources["tor"].Skipped)
	assert.False(t, report.Sources["tor"].Success)
	assert.Equal(t, 0, report.Total)
}

func TestRunSourceSkipsWhenLockedNoRedis(t *testing.T) {
	db, _, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := refdata.NewStore(db, nil, refdata.DefaultCacheTTLs())
	p := NewPipeline(db, store, nil, config.RefreshConfig{JobTimeoutSeconds: 60}, 0)

	// Simulate a run in flight. The second invocation must skip
	// immediately instead of queueing behind the held lock.
	p.locks["tor"].Lock()
	defer p.locks["tor"].Unlock()

	done := make(chan Report, 1)
	go func() {
		report, _ := p.RunOne(context.Background(), "tor", true)
		done <- report
	}()

	select {
	case report := <-done:
		assert.True(t, report.Sources["tor"].Skipped)
		assert.False(t, report.Sources["tor"].Success)
	case <-time.After(2 * time.Second):
		t.Fatal("run blocked on the in-process lock instead of skipping")
	}
}

func TestRunSourceSkipsWhenRecentlyRefreshed(t *testing.T) {
	p, mock, _ := newPipelineHarness(t, "185.220.101.34\n")

	rows := sqlmock.NewRows([]string{"completed_at"}).AddRow(time.Now().Add(-time.Hour))
	mock.ExpectQuery(`SELECT completed_at FROM data_source_refreshes`).WillReturnRows(rows)

	report, err := p.RunOne(context.Background(), "tor", false)
	require.NoError(t, err)
	assert.True(t, report.Sources["tor"].Skipped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunSourceTorEndToEnd(t *testing.T) {
	feed := "185.220.101.34\n# comment line\nmalformed-entry\n185.220.101.35\n"
	p, mock, _ := newPipelineHarness(t, feed)

	mock.ExpectExec(`INSERT INTO data_source_refreshes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE tor_exit_nodes SET is_active = false`).
		WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectPrepare(`INSERT INTO tor_exit_nodes`)
	mock.ExpectExec(`INSERT INTO tor_exit_nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO tor_exit_nodes`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`DELETE FROM tor_exit_nodes`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`UPDATE data_source_refreshes`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := p.RunOne(context.Background(), "tor", true)
	require.NoError(t, err)

	sr := report.Sources["tor"]
	assert.True(t, sr.Success, "report: %+v", sr)
	assert.Equal(t, 2, sr.Count, "malformed and comment lines are skipped")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunOneUnknownSource(t *testing.T) {
	p, _, _ := newPipelineHarness(t, "")
	_, err := p.RunOne(context.Background(), "nope", false)
	require.Error(t, err)
}

func TestPipelineStaleAge(t *testing.T) {
	p := NewPipeline(nil, nil, nil, config.RefreshConfig{}, 14*24*time.Hour)
	assert.Equal(t, 14*24*time.Hour, p.stale)

	assert.Equal(t, defaultStaleAfter, NewPipeline(nil, nil, nil, config.RefreshConfig{}, 0).stale)
}

func TestSourceNames(t *testing.T) {
	p, _, _ := newPipelineHarness(t, "")
	assert.Equal(t, []string{"tor", "disposable_emails", "asn", "user_agents"}, p.SourceNames())
}
