package convo_test

import (
	"sync"
	"testing"

	"surf-tg/internal/domain/convo"
)

func TestPredicates(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		step         convo.Step
		wantLogin    bool
		wantSettings bool
	}{
		{name: "loginPhone", step: convo.LoginPhone{}, wantLogin: true},
		{name: "loginCode", step: convo.LoginCode{Phone: "+100"}, wantLogin: true},
		{name: "loginPassword", step: convo.LoginPassword{Phone: "+100"}, wantLogin: true},
		{name: "settingsChat", step: convo.SettingsChat{}, wantSettings: true},
		{name: "settingsThumb", step: convo.SettingsThumb{}, wantSettings: true},
		{name: "batchStart", step: convo.BatchStart{}},
		{name: "batchCount", step: convo.BatchCount{Start: 5}},
		{name: "batchSingle", step: convo.BatchSingle{}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := convo.LoginInProgress(tc.step); got != tc.wantLogin {
				t.Fatalf("LoginInProgress = %v, want %v", got, tc.wantLogin)
			}
			if got := convo.SettingsInProgress(tc.step); got != tc.wantSettings {
				t.Fatalf("SettingsInProgress = %v, want %v", got, tc.wantSettings)
			}
		})
	}
}

func TestRegistrySetGetClear(t *testing.T) {
	t.Parallel()

	reg := convo.NewRegistry()

	if _, ok := reg.Get(1); ok {
		t.Fatal("empty registry must not return a step")
	}

	reg.Set(1, convo.BatchStart{})
	step, ok := reg.Get(1)
	if !ok {
		t.Fatal("step not found after Set")
	}
	if _, isBatch := step.(convo.BatchStart); !isBatch {
		t.Fatalf("unexpected step type %T", step)
	}

	if _, ok = reg.Clear(1); !ok {
		t.Fatal("Clear must report the removed step")
	}
	if _, ok = reg.Get(1); ok {
		t.Fatal("step survived Clear")
	}
	if _, ok = reg.Clear(1); ok {
		t.Fatal("second Clear must be a no-op")
	}
}

func TestClearReleasesLoginClient(t *testing.T) {
	t.Parallel()

	stops := 0
	conn := convo.NewLoginClient(nil, func() error {
		stops++
		return nil
	})

	reg := convo.NewRegistry()
	reg.Set(7, convo.LoginCode{Phone: "+100", CodeHash: "h", Conn: conn})
	reg.Clear(7)

	if stops != 1 {
		t.Fatalf("stop called %d times, want 1", stops)
	}

	// Повторное освобождение того же подключения безопасно.
	conn.Release()
	if stops != 1 {
		t.Fatalf("Release must be idempotent, stop called %d times", stops)
	}
}

func TestSetDoesNotReleasePreviousStep(t *testing.T) {
	t.Parallel()

	stops := 0
	conn := convo.NewLoginClient(nil, func() error {
		stops++
		return nil
	})

	reg := convo.NewRegistry()
	reg.Set(7, convo.LoginCode{Phone: "+100", Conn: conn})
	// Переход code → password переносит живой клиент в следующий шаг.
	reg.Set(7, convo.LoginPassword{Phone: "+100", Conn: conn})

	if stops != 0 {
		t.Fatalf("Set must not release the carried client, stop called %d times", stops)
	}

	reg.Clear(7)
	if stops != 1 {
		t.Fatalf("stop called %d times after Clear, want 1", stops)
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	reg := convo.NewRegistry()
	reg.Set(2, convo.BatchStart{})

	reg.Update(2, func(convo.Step) convo.Step {
		return convo.BatchCount{Start: 42, ChatRef: "-100123", Private: true}
	})
	step, _ := reg.Get(2)
	count, ok := step.(convo.BatchCount)
	if !ok || count.Start != 42 || count.ChatRef != "-100123" || !count.Private {
		t.Fatalf("unexpected step after Update: %+v", step)
	}

	reg.Update(2, func(convo.Step) convo.Step { return nil })
	if _, ok = reg.Get(2); ok {
		t.Fatal("nil from Update must remove the step")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	reg := convo.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			reg.Set(userID, convo.BatchStart{})
			reg.Update(userID, func(convo.Step) convo.Step {
				return convo.BatchCount{Start: int(userID)}
			})
			if _, ok := reg.Get(userID); !ok {
				t.Errorf("user %d lost its step", userID)
			}
			reg.Clear(userID)
		}(int64(i))
	}
	wg.Wait()
}
