package payments_test

import (
	"path/filepath"
	"testing"

	"surf-tg/internal/adapters/telegram/payments"
	"surf-tg/internal/infra/config"
	"surf-tg/internal/infra/db"

	"github.com/gotd/td/tg"
)

func TestParsePayload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		payload  string
		wantKey  string
		wantUser int64
		wantErr  bool
	}{
		{name: "simple", payload: "m_123456", wantKey: "m", wantUser: 123456},
		{name: "underscoreInKey", payload: "promo_2026_777", wantKey: "promo_2026", wantUser: 777},
		{name: "noSeparator", payload: "m123456", wantErr: true},
		{name: "badUser", payload: "m_abc", wantErr: true},
		{name: "empty", payload: "", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			key, user, err := payments.ParsePayload([]byte(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParsePayload(%q) expected error, got %q/%d", tc.payload, key, user)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePayload(%q) error = %v", tc.payload, err)
			}
			if key != tc.wantKey || user != tc.wantUser {
				t.Fatalf("ParsePayload(%q) = %q, %d; want %q, %d", tc.payload, key, user, tc.wantKey, tc.wantUser)
			}
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	payload := payments.InvoicePayload("w", 42)
	key, user, err := payments.ParsePayload(payload)
	if err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if key != "w" || user != 42 {
		t.Fatalf("round trip = %q, %d", key, user)
	}
}

func TestInvoiceMedia(t *testing.T) {
	t.Parallel()

	plan := db.Plan{Key: "m", Label: "1 Month", Stars: 400, Duration: 1, Unit: "month"}
	media := payments.InvoiceMedia(plan, 555)

	if media.Invoice.Currency != "XTR" {
		t.Fatalf("currency = %q, want XTR", media.Invoice.Currency)
	}
	if len(media.Invoice.Prices) != 1 || media.Invoice.Prices[0].Amount != 400 {
		t.Fatalf("prices = %+v", media.Invoice.Prices)
	}
	if string(media.Payload) != "m_555" {
		t.Fatalf("payload = %q", media.Payload)
	}
}

func TestPlansKeyboard(t *testing.T) {
	t.Parallel()

	plans := []db.Plan{
		{Key: "d", Label: "1 Day", Stars: 35},
		{Key: "m", Label: "1 Month", Stars: 400},
	}
	markup := payments.PlansKeyboard(plans)
	if len(markup.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(markup.Rows))
	}
	btn, ok := markup.Rows[0].Buttons[0].(*tg.KeyboardButtonCallback)
	if !ok {
		t.Fatalf("button type = %T", markup.Rows[0].Buttons[0])
	}
	if string(btn.Data) != "p_d" {
		t.Fatalf("data = %q, want p_d", btn.Data)
	}
	if btn.Text != "1 Day — 35 ⭐" {
		t.Fatalf("text = %q", btn.Text)
	}
}

func TestPlansMerge(t *testing.T) {
	t.Parallel()

	store, err := db.Open(filepath.Join(t.TempDir(), "surf.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	env := []config.PlanDefaults{
		{Key: "d", Label: "1 Day", Stars: 35, Duration: 1, Unit: "days"},
		{Key: "m", Label: "1 Month", Stars: 400, Duration: 1, Unit: "month"},
	}
	// Тариф из хранилища с тем же ключом перекрывает дефолт, новый добавляется.
	if err = store.PutPlan(db.Plan{Key: "m", Label: "1 Month Sale", Stars: 300, Duration: 1, Unit: "month"}); err != nil {
		t.Fatalf("PutPlan() error = %v", err)
	}
	if err = store.PutPlan(db.Plan{Key: "y", Label: "1 Year", Stars: 3000, Duration: 1, Unit: "year"}); err != nil {
		t.Fatalf("PutPlan() error = %v", err)
	}

	svc := payments.New(nil, nil, store, nil, env, 0)
	plans, err := svc.Plans()
	if err != nil {
		t.Fatalf("Plans() error = %v", err)
	}

	if len(plans) != 3 {
		t.Fatalf("plans = %d, want 3: %+v", len(plans), plans)
	}
	// Сортировка по цене: 35, 300, 3000.
	if plans[0].Key != "d" || plans[1].Key != "m" || plans[2].Key != "y" {
		t.Fatalf("order = %s %s %s", plans[0].Key, plans[1].Key, plans[2].Key)
	}
	if plans[1].Stars != 300 || plans[1].Label != "1 Month Sale" {
		t.Fatalf("stored plan must win: %+v", plans[1])
	}

	plan, err := svc.Plan("y")
	if err != nil {
		t.Fatalf("Plan(y) error = %v", err)
	}
	if plan.Stars != 3000 {
		t.Fatalf("Plan(y) = %+v", plan)
	}
	if _, err = svc.Plan("nope"); err == nil {
		t.Fatal("Plan(nope) expected error")
	}
}
