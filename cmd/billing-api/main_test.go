package main

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ledgerlink/billing/internal/platform/config"
)

func TestParseKeyValueList(t *testing.T) {
	got := parseKeyValueList(" prod=ledger-prod , staging = ledger-stg,broken,=x,y= ")
	want := map[string]string{"prod": "ledger-prod", "staging": "ledger-stg"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected map (-want +got):\n%s", diff)
	}
	if parseKeyValueList("  ") != nil {
		t.Fatalf("expected nil for empty input")
	}
}

func TestRequiredSecretNames(t *testing.T) {
	if got := requiredSecretNames(map[string]string{"BILLING_STORE_DRIVER": "Postgres"}); len(got) != 1 || got[0] != "Store.DSN" {
		t.Fatalf("expected Store.DSN for postgres, got %v", got)
	}
	if got := requiredSecretNames(map[string]string{"BILLING_STORE_DRIVER": "fixture"}); len(got) != 0 {
		t.Fatalf("expected no required secrets, got %v", got)
	}
}

func TestBuildInfoFromEnvDefaults(t *testing.T) {
	started := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	info := buildInfoFromEnv(map[string]string{"BILLING_BUILD_VERSION": " 1.4.0 "}, config.Config{}, started)
	if info.Version != "1.4.0" || info.CommitSHA != "unknown" || info.Environment != "local" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestTraceProjectIDPrefersFirestore(t *testing.T) {
	cfg := config.Config{
		Firestore: config.FirestoreConfig{ProjectID: "ledger-prod"},
		PubSub:    config.PubSubConfig{ProjectID: "ledger-events"},
	}
	if got := traceProjectID(cfg); got != "ledger-prod" {
		t.Fatalf("unexpected project %q", got)
	}
	cfg.Firestore.ProjectID = ""
	if got := traceProjectID(cfg); got != "ledger-events" {
		t.Fatalf("unexpected fallback project %q", got)
	}
}
