// Пакет quota — подписки и суточные лимиты. Поверх хранилища грантов и
// счётчиков строится единая точка ответов: премиум ли пользователь, сколько
// сообщений ему осталось сегодня, выдача/перенос/отзыв подписки.
package quota

import (
	"time"

	"surf-tg/internal/infra/db"

	"github.com/go-faster/errors"
)

// Unlimited — сентинел remainingLimit для безлимитного премиума.
const Unlimited = -1

// ErrInvalidUnit возвращается на неизвестную единицу длительности подписки.
var ErrInvalidUnit = errors.New("invalid duration unit")

// ErrNoGrant возвращается переносом, когда у источника нет активной подписки.
var ErrNoGrant = errors.New("user has no active premium")

// unitDurations — фиксированная карта единиц. Месяц считается как 30 дней,
// год как 365, декада как 3650.
var unitDurations = map[string]time.Duration{
	"min":     time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"month":   30 * 24 * time.Hour,
	"year":    365 * 24 * time.Hour,
	"decades": 3650 * 24 * time.Hour,
}

// UnitDuration переводит (value, unit) в длительность.
func UnitDuration(value int, unit string) (time.Duration, error) {
	base, ok := unitDurations[unit]
	if !ok {
		return 0, errors.Wrapf(ErrInvalidUnit, "unit %q", unit)
	}
	return time.Duration(value) * base, nil
}

// Limits — суточные пороги из конфигурации. Ноль у премиума означает
// безлимит, ноль у фримиума — доступ только по подписке.
type Limits struct {
	Freemium int
	Premium  int
}

// Engine отвечает на вопросы доступа. Часы инжектируются для тестов.
type Engine struct {
	store  *db.Store
	limits Limits
	clock  func() time.Time
}

// New создаёт движок с системными часами.
func New(store *db.Store, limits Limits) *Engine {
	return &Engine{store: store, limits: limits, clock: time.Now}
}

// SetClock подменяет источник времени.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
}

// Limits возвращает действующие пороги.
func (e *Engine) Limits() Limits {
	return e.limits
}

// IsPremium — есть ли у пользователя активный грант. Истёкший грант
// удаляется на этом же чтении.
func (e *Engine) IsPremium(userID int64) (bool, error) {
	_, err := e.store.GetGrant(userID, e.clock())
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Grant возвращает активный грант пользователя, nil — если подписки нет.
func (e *Engine) Grant(userID int64) (*db.PremiumGrant, error) {
	grant, err := e.store.GetGrant(userID, e.clock())
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil
	}
	return grant, err
}

// RemainingLimit возвращает остаток суточного лимита. Для премиума с нулевым
// порогом — Unlimited.
func (e *Engine) RemainingLimit(userID int64) (int, error) {
	premium, err := e.IsPremium(userID)
	if err != nil {
		return 0, err
	}
	limit := e.limits.Freemium
	if premium {
		if e.limits.Premium == 0 {
			return Unlimited, nil
		}
		limit = e.limits.Premium
	}
	used, err := e.store.UsageToday(userID)
	if err != nil {
		return 0, err
	}
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}

// ConsumeOne списывает единицу суточного лимита и возвращает использование
// за сегодня.
func (e *Engine) ConsumeOne(userID int64) (int, error) {
	return e.store.IncrementUsage(userID)
}

// AddPremium выдаёт или продлевает подписку от текущего момента. Возвращает
// новый срок истечения.
func (e *Engine) AddPremium(userID int64, value int, unit string) (time.Time, error) {
	dur, err := UnitDuration(value, unit)
	if err != nil {
		return time.Time{}, err
	}
	now := e.clock()
	grant := db.PremiumGrant{
		UserID:    userID,
		ExpireAt:  now.Add(dur),
		GrantedAt: now,
	}
	if err = e.store.PutGrant(grant); err != nil {
		return time.Time{}, errors.Wrap(err, "store grant")
	}
	return grant.ExpireAt, nil
}

// RevokePremium снимает подписку немедленно.
func (e *Engine) RevokePremium(userID int64) error {
	return e.store.DeleteGrant(userID)
}

// TransferPremium переносит остаток срока с from на to. Срок не пересчитывается:
// приёмник получает ровно прежний expiry с отметкой о переносе.
func (e *Engine) TransferPremium(from, to int64) (time.Time, error) {
	expiry, err := e.store.TransferGrant(from, to, e.clock())
	if errors.Is(err, db.ErrNotFound) {
		return time.Time{}, ErrNoGrant
	}
	return expiry, err
}

// ListPremium возвращает активные подписки по возрастанию срока.
func (e *Engine) ListPremium() ([]db.PremiumGrant, error) {
	return e.store.ListGrants(e.clock())
}

// CountPremium возвращает число активных подписок.
func (e *Engine) CountPremium() (int, error) {
	return e.store.CountGrants(e.clock())
}
