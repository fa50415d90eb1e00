package config_test

import (
	"strings"
	"testing"

	"surf-tg/internal/infra/config"
)

// setRequiredEnv задаёт минимум, без которого Load отказывает на старте.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_ID", "12345")
	t.Setenv("API_HASH", "abcdef0123456789")
	t.Setenv("BOT_TOKEN", "12345:AAtestTOKEN")
	t.Setenv("MASTER_KEY", "master-pass")
	t.Setenv("IV_KEY", "vault-salt")
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

// Load латчит singleton только при успехе, поэтому порядок сабтестов важен:
// сначала отказы, затем единственная успешная загрузка. t.Setenv исключает
// t.Parallel во всём дереве.
func TestLoad(t *testing.T) {
	t.Run("rejectsMissingRequired", func(t *testing.T) {
		cases := []struct {
			name     string
			blank    string
			override map[string]string
			wantSub  string
		}{
			{name: "missingAPIID", blank: "API_ID", wantSub: "API_ID must be set"},
			{name: "garbageAPIID", override: map[string]string{"API_ID": "twelve"}, wantSub: "API_ID must be a valid integer"},
			{name: "missingAPIHash", blank: "API_HASH", wantSub: "API_HASH must be set"},
			{name: "missingBotToken", blank: "BOT_TOKEN", wantSub: "BOT_TOKEN must be set"},
			{name: "missingMasterKey", blank: "MASTER_KEY", wantSub: "MASTER_KEY must be set"},
			{name: "missingIVKey", blank: "IV_KEY", wantSub: "IV_KEY must be set"},
		}

		for _, tc := range cases {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				setRequiredEnv(t)
				if tc.blank != "" {
					t.Setenv(tc.blank, "")
				}
				for k, v := range tc.override {
					t.Setenv(k, v)
				}

				err := config.Load("")
				if err == nil {
					t.Fatal("Load() = nil, want error")
				}
				if !strings.Contains(err.Error(), tc.wantSub) {
					t.Fatalf("Load() error = %q, want substring %q", err, tc.wantSub)
				}
			})
		}
	})

	t.Run("defaultsAndWarnings", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("WORKERS", "-3")
		t.Setenv("PORT", "9090")
		t.Setenv("THROTTLE_RPS", "")
		t.Setenv("FREEMIUM_LIMIT", "")
		t.Setenv("PREMIUM_LIMIT", "0")
		t.Setenv("BASE_URL", "https://dl.example.org/")
		t.Setenv("AUTH_CHANNEL", "-1001111111111 -1002222222222")
		t.Setenv("SUDO_USERS", "111, abc, 222")
		t.Setenv("OWNER_ID", "777000")
		t.Setenv("LOG_LEVEL", "verbose")
		t.Setenv("DATABASE_URL", "mongodb://legacy:27017/surf")
		t.Setenv("DB_PATH", "")
		t.Setenv("PLAN_D_S", "99")
		t.Setenv("PLAN_W_DU", "zero")

		if err := config.Load(""); err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		env := config.Env()
		if env.APIID != 12345 || env.APIHash != "abcdef0123456789" {
			t.Fatalf("credentials = %d %q, want 12345 abcdef0123456789", env.APIID, env.APIHash)
		}
		if env.Workers != 4 {
			t.Fatalf("Workers = %d, want default 4 after rejected -3", env.Workers)
		}
		if env.Port != 9090 {
			t.Fatalf("Port = %d, want 9090", env.Port)
		}
		if env.ThrottleRPS != 10 {
			t.Fatalf("ThrottleRPS = %d, want default 10", env.ThrottleRPS)
		}
		if env.FreemiumLimit != 10 || env.PremiumLimit != 0 {
			t.Fatalf("limits = %d/%d, want 10/0", env.FreemiumLimit, env.PremiumLimit)
		}
		if env.BaseURL != "https://dl.example.org" {
			t.Fatalf("BaseURL = %q, want trailing slash trimmed", env.BaseURL)
		}
		if env.OwnerID != 777000 {
			t.Fatalf("OwnerID = %d, want 777000", env.OwnerID)
		}
		if len(env.AuthChannels) != 2 || env.AuthChannels[0] != -1001111111111 || env.AuthChannels[1] != -1002222222222 {
			t.Fatalf("AuthChannels = %v, want two ids", env.AuthChannels)
		}
		if len(env.SudoUsers) != 2 || env.SudoUsers[0] != 111 || env.SudoUsers[1] != 222 {
			t.Fatalf("SudoUsers = %v, want [111 222] with abc skipped", env.SudoUsers)
		}
		if env.LogLevel != "info" {
			t.Fatalf("LogLevel = %q, want default info after rejected verbose", env.LogLevel)
		}
		if env.DBPath != "data/surf.db" {
			t.Fatalf("DBPath = %q, want default", env.DBPath)
		}
		if len(env.Plans) != 3 {
			t.Fatalf("Plans = %d, want 3", len(env.Plans))
		}
		if env.Plans[0].Key != "d" || env.Plans[0].Stars != 99 {
			t.Fatalf("plan d = %+v, want Stars override 99", env.Plans[0])
		}
		if env.Plans[1].Key != "w" || env.Plans[1].Duration != 1 {
			t.Fatalf("plan w = %+v, want default duration after rejected override", env.Plans[1])
		}

		ws := config.Warnings()
		for _, sub := range []string{
			"WORKERS",
			"FREEMIUM_LIMIT",
			"SUDO_USERS",
			"LOG_LEVEL",
			"DATABASE_URL/MONGO_DB are ignored",
			"PLAN_W_DU",
		} {
			if !hasWarning(ws, sub) {
				t.Fatalf("warnings %v lack %q", ws, sub)
			}
		}
		if hasWarning(ws, "env PORT ") {
			t.Fatalf("warnings %v mention valid PORT", ws)
		}
		if hasWarning(ws, "BASE_URL") {
			t.Fatalf("warnings %v mention set BASE_URL", ws)
		}

		if err := config.Load(""); err == nil || !strings.Contains(err.Error(), "already loaded") {
			t.Fatalf("second Load() = %v, want already-loaded error", err)
		}
	})
}

func TestEnvConfigAccess(t *testing.T) {
	t.Parallel()

	env := config.EnvConfig{
		OwnerID:      42,
		SudoUsers:    []int64{7},
		AuthChannels: []int64{-1001234567890},
	}

	if !env.IsOwner(42) || env.IsOwner(7) {
		t.Fatal("IsOwner must match only OwnerID")
	}
	if !env.IsSudo(42) {
		t.Fatal("owner must be sudo")
	}
	if !env.IsSudo(7) || env.IsSudo(8) {
		t.Fatal("IsSudo must match only the sudo list")
	}
	if !env.IsAuthChannel(-1001234567890) || env.IsAuthChannel(-100555) {
		t.Fatal("IsAuthChannel must match only configured channels")
	}

	var empty config.EnvConfig
	if empty.IsOwner(0) {
		t.Fatal("zero OwnerID must not match anyone")
	}
}
