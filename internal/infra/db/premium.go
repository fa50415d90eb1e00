package db

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/go-faster/errors"
	bolt "go.etcd.io/bbolt"
)

// PutGrant сохраняет premium-грант (создание и продление).
func (s *Store) PutGrant(grant PremiumGrant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		raw, err := json.Marshal(grant)
		if err != nil {
			return errors.Wrap(err, "encode grant")
		}
		return tx.Bucket(bucketPremium).Put(userKey(grant.UserID), raw)
	})
}

// GetGrant возвращает грант пользователя вместе с ленивой чисткой: истёкшая
// запись удаляется прямо на чтении и наружу не отдаётся.
func (s *Store) GetGrant(userID int64, now time.Time) (*PremiumGrant, error) {
	var (
		grant   PremiumGrant
		expired bool
	)
	err := s.db.Update(func(tx *bolt.Tx) error {
		premium := tx.Bucket(bucketPremium)
		raw := premium.Get(userKey(userID))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &grant); err != nil {
			return errors.Wrap(err, "decode grant")
		}
		if !grant.ExpireAt.After(now) {
			expired = true
			return premium.Delete(userKey(userID))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		return nil, ErrNotFound
	}
	return &grant, nil
}

// DeleteGrant снимает подписку (отзыв или перенос).
func (s *Store) DeleteGrant(userID int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPremium).Delete(userKey(userID))
	})
}

// ListGrants возвращает активные гранты, отсортированные по сроку истечения.
// Просроченные записи пропускаются (их добьёт свипер).
func (s *Store) ListGrants(now time.Time) ([]PremiumGrant, error) {
	var out []PremiumGrant
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPremium).ForEach(func(_, raw []byte) error {
			var grant PremiumGrant
			if err := json.Unmarshal(raw, &grant); err != nil {
				return errors.Wrap(err, "decode grant")
			}
			if grant.ExpireAt.After(now) {
				out = append(out, grant)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpireAt.Before(out[j].ExpireAt) })
	return out, nil
}

// CountGrants возвращает число активных подписок.
func (s *Store) CountGrants(now time.Time) (int, error) {
	grants, err := s.ListGrants(now)
	if err != nil {
		return 0, err
	}
	return len(grants), nil
}

// SweepExpiredPremium удаляет истёкшие гранты одним проходом. Возвращает число
// удалённых записей.
func (s *Store) SweepExpiredPremium(now time.Time) (int, error) {
	var removed int
	err := s.db.Update(func(tx *bolt.Tx) error {
		premium := tx.Bucket(bucketPremium)
		var stale [][]byte
		cursor := premium.Cursor()
		for k, raw := cursor.First(); k != nil; k, raw = cursor.Next() {
			var grant PremiumGrant
			if err := json.Unmarshal(raw, &grant); err != nil {
				continue
			}
			if !grant.ExpireAt.After(now) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
		}
		for _, key := range stale {
			if err := premium.Delete(key); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// TransferGrant переносит срок действия подписки с from на to в одной
// транзакции: у источника запись удаляется, приёмник получает тот же expiry
// с отметкой transferred_from.
func (s *Store) TransferGrant(from, to int64, now time.Time) (time.Time, error) {
	var expiry time.Time
	err := s.db.Update(func(tx *bolt.Tx) error {
		premium := tx.Bucket(bucketPremium)
		raw := premium.Get(userKey(from))
		if raw == nil {
			return ErrNotFound
		}
		var grant PremiumGrant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return errors.Wrap(err, "decode grant")
		}
		if !grant.ExpireAt.After(now) {
			_ = premium.Delete(userKey(from))
			return ErrNotFound
		}
		moved := PremiumGrant{
			UserID:          to,
			ExpireAt:        grant.ExpireAt,
			GrantedAt:       now,
			TransferredFrom: from,
		}
		encoded, err := json.Marshal(moved)
		if err != nil {
			return errors.Wrap(err, "encode grant")
		}
		if err = premium.Delete(userKey(from)); err != nil {
			return err
		}
		if err = premium.Put(userKey(to), encoded); err != nil {
			return err
		}
		expiry = grant.ExpireAt
		return nil
	})
	return expiry, err
}
