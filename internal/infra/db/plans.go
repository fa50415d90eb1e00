package db

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// PutPlan сохраняет тариф (upsert по ключу).
func (s *Store) PutPlan(plan Plan) error {
	if strings.TrimSpace(plan.Key) == "" {
		return errors.New("plan key must not be empty")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(plan)
		if err != nil {
			return errors.Wrap(err, "encode plan")
		}
		return tx.Bucket(bucketPlans).Put([]byte(plan.Key), raw)
	})
}

// GetPlan возвращает тариф по ключу либо ErrNotFound.
func (s *Store) GetPlan(key string) (*Plan, error) {
	var plan Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPlans).Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// DeletePlan удаляет тариф по ключу.
func (s *Store) DeletePlan(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).Delete([]byte(key))
	})
}

// ListPlans возвращает тарифы, отсортированные по возрастанию цены.
func (s *Store) ListPlans() ([]Plan, error) {
	var out []Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).ForEach(func(_, raw []byte) error {
			var plan Plan
			if err := json.Unmarshal(raw, &plan); err != nil {
				return errors.Wrap(err, "decode plan")
			}
			out = append(out, plan)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stars < out[j].Stars })
	return out, nil
}

// Конфиг-коллекция: пара ключ-значение для рантайм-настроек, переживающих рестарт.
const (
	configAuthChannels = "auth_channel"
	configCleanService = "cleanservice"
)

// SetConfigValue записывает значение рантайм-настройки.
func (s *Store) SetConfigValue(name, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConfig).Put([]byte(name), []byte(value))
	})
}

// GetConfigValue читает значение рантайм-настройки.
func (s *Store) GetConfigValue(name string) (string, bool) {
	var (
		value string
		found bool
	)
	_ = s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketConfig).Get([]byte(name))
		if raw != nil {
			value = string(raw)
			found = true
		}
		return nil
	})
	return value, found
}

// AuthChannelsOverride возвращает CSV-переопределение списка авторизованных
// каналов из конфиг-коллекции, если владелец его задавал.
func (s *Store) AuthChannelsOverride() ([]int64, bool) {
	raw, ok := s.GetConfigValue(configAuthChannels)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, false
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, len(out) > 0
}

// SetCleanService включает/выключает удаление сервисных сообщений в каналах.
func (s *Store) SetCleanService(enabled bool) error {
	return s.SetConfigValue(configCleanService, strconv.FormatBool(enabled))
}

// CleanService возвращает текущее состояние флага cleanservice.
func (s *Store) CleanService() bool {
	raw, ok := s.GetConfigValue(configCleanService)
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(raw)
	return err == nil && v
}
