package refdata

import (
	"context"
	"database/sql"
	"net/netip"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupStore(t *testing.T) (*Store, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewStore(db, client, DefaultCacheTTLs()), mock, mr
}

func TestLookupBlacklist_HitPopulatesCache(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	hash := "aabbccdd00112233aabbccdd00112233aabbccdd00112233aabbccdd00112233"
	rows := sqlmock.NewRows([]string{"value_hash", "reason", "risk_weight", "report_count", "last_seen_at"}).
		AddRow(hash, "chargeback", 100, 4, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM blacklisted_emails")).WithArgs(hash).WillReturnRows(rows)

	entry, err := store.LookupBlacklist(ctx, BlacklistEmail, hash)
	if err != nil {
		t.Fatalf("LookupBlacklist: %v", err)
	}
	if entry == nil || entry.Reason != "chargeback" {
		t.Fatalf("entry = %+v, want chargeback row", entry)
	}

	// Second lookup must come from cache: no further query is expected.
	entry2, err := store.LookupBlacklist(ctx, BlacklistEmail, hash)
	if err != nil {
		t.Fatalf("cached LookupBlacklist: %v", err)
	}
	if entry2 == nil || entry2.ValueHash != hash {
		t.Fatalf("cached entry = %+v", entry2)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLookupBlacklist_NegativeCache(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	hash := "0000000000000000000000000000000000000000000000000000000000000000"
	mock.ExpectQuery(regexp.QuoteMeta("FROM blacklisted_ips")).WithArgs(hash).WillReturnError(sql.ErrNoRows)

	entry, err := store.LookupBlacklist(ctx, BlacklistIP, hash)
	if err != nil || entry != nil {
		t.Fatalf("miss lookup = (%+v, %v), want (nil, nil)", entry, err)
	}

	// Absence is cached; the second call must not hit the database.
	entry, err = store.LookupBlacklist(ctx, BlacklistIP, hash)
	if err != nil || entry != nil {
		t.Fatalf("cached miss = (%+v, %v), want (nil, nil)", entry, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLookupBlacklist_DBErrorBubblesUp(t *testing.T) {
	store, mock, _ := setupStore(t)

	hash := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	mock.ExpectQuery(regexp.QuoteMeta("FROM blacklisted_credit_cards")).WithArgs(hash).
		WillReturnError(sql.ErrConnDone)

	_, err := store.LookupBlacklist(context.Background(), BlacklistCreditCard, hash)
	if err == nil {
		t.Fatal("expected store error to bubble up, got nil")
	}
}

func TestLookupTorExitNode_CachedAfterFirstHit(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"ip_address", "ip_version", "node_id", "nickname", "risk_weight", "is_active", "last_seen_at"}).
		AddRow("185.220.101.5", 4, "FP1", "exit42", 90, true, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM tor_exit_nodes")).WithArgs("185.220.101.5").WillReturnRows(rows)

	node, err := store.LookupTorExitNode(ctx, "185.220.101.5")
	if err != nil {
		t.Fatalf("LookupTorExitNode: %v", err)
	}
	if node == nil || node.RiskWeight != 90 {
		t.Fatalf("node = %+v", node)
	}

	node, err = store.LookupTorExitNode(ctx, "185.220.101.5")
	if err != nil || node == nil {
		t.Fatalf("cached lookup = (%+v, %v)", node, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertTorExitNodes_DefaultsWeightAndMerges(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO tor_exit_nodes"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tor_exit_nodes")).
		WithArgs("185.220.101.5", 4, "", "", 90).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	err = store.UpsertTorExitNodes(ctx, tx, []TorExitNode{{IPAddress: "185.220.101.5", IPVersion: 4}})
	if err != nil {
		t.Fatalf("UpsertTorExitNodes: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUpsertBatch_EmptyBatch(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	tx, _ := store.BeginTx(ctx)
	if err := store.UpsertTorExitNodes(ctx, tx, nil); err != ErrEmptyBatch {
		t.Errorf("empty tor batch error = %v, want ErrEmptyBatch", err)
	}
	if err := store.UpsertDisposableDomains(ctx, tx, nil); err != ErrEmptyBatch {
		t.Errorf("empty disposable batch error = %v, want ErrEmptyBatch", err)
	}
}

func TestDeactivateAll_RejectsUnknownTable(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	tx, _ := store.BeginTx(ctx)
	if err := store.DeactivateAll(ctx, tx, "users; DROP TABLE users"); err == nil {
		t.Error("expected unknown-table error")
	}
	if _, err := store.DeleteStale(ctx, "bogus", time.Hour); err == nil {
		t.Error("expected unknown-table error")
	}
}

func TestDisposableRiskWeight(t *testing.T) {
	tests := []struct {
		domain string
		want   int
	}{
		{"mailinator.com", 80},
		{"tempmail.io", 90},
		{"10minutemail.com", 90},
		{"trashbox.net", 90},
		{"example.org", 80},
	}
	for _, tt := range tests {
		if got := DisposableRiskWeight(tt.domain); got != tt.want {
			t.Errorf("DisposableRiskWeight(%s) = %d, want %d", tt.domain, got, tt.want)
		}
	}
}

var asnScanColumns = []string{
	"asn", "organization", "country_code", "type",
	"is_hosting", "is_vpn", "is_proxy", "ip_ranges", "risk_weight", "is_active",
}

func TestLookupASNByIP_CachedAfterFirstScan(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows(asnScanColumns).
		AddRow(13335, "Cloudflare", "US", "datacenter", true, false, false, []byte(`["104.16.0.0/13"]`), 30, true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM asns")).WillReturnRows(rows)

	addr := netip.MustParseAddr("104.16.1.1")
	a, err := store.LookupASNByIP(ctx, addr)
	if err != nil || a == nil || a.Number != 13335 {
		t.Fatalf("LookupASNByIP = (%+v, %v)", a, err)
	}

	// Second resolution of the same IP must come from cache: only one
	// range scan is expected.
	a, err = store.LookupASNByIP(ctx, addr)
	if err != nil || a == nil || a.Number != 13335 {
		t.Fatalf("cached LookupASNByIP = (%+v, %v)", a, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestLookupASNByIP_NegativeCached(t *testing.T) {
	store, mock, _ := setupStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM asns")).
		WillReturnRows(sqlmock.NewRows(asnScanColumns))

	addr := netip.MustParseAddr("8.8.8.8")
	a, err := store.LookupASNByIP(ctx, addr)
	if err != nil || a != nil {
		t.Fatalf("miss = (%+v, %v), want (nil, nil)", a, err)
	}

	a, err = store.LookupASNByIP(ctx, addr)
	if err != nil || a != nil {
		t.Fatalf("cached miss = (%+v, %v), want (nil, nil)", a, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUserAgentHash(t *testing.T) {
	h := UserAgentHash("curl/7.64.1")
	if len(h) != 64 {
		t.Errorf("hash length = %d, want 64", len(h))
	}
	if h != UserAgentHash("curl/7.64.1") {
		t.Error("hash must be deterministic")
	}
	if h == UserAgentHash("curl/8.0.0") {
		t.Error("different UAs must hash differently")
	}
}

func TestStore_NilRedisDisablesCache(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := NewStore(db, nil, DefaultCacheTTLs())
	hash := "1111111111111111111111111111111111111111111111111111111111111111"

	// Both lookups must hit the database when no cache is configured.
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("FROM blacklisted_phones")).WithArgs(hash).WillReturnError(sql.ErrNoRows)
	}
	for i := 0; i < 2; i++ {
		if entry, err := store.LookupBlacklist(context.Background(), BlacklistPhone, hash); err != nil || entry != nil {
			t.Fatalf("lookup #%d = (%+v, %v)", i, entry, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
