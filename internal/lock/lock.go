// README: Per-entity exclusive locks keyed by entity id.
package lock

import (
	"context"
	"sort"
)

// Unlock releases every key acquired by a single Lock call. It is safe to call once.
type Unlock func()

// Locker acquires exclusive locks on a set of entity keys. Keys are always taken in
// sorted order so two callers locking overlapping sets cannot deadlock.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (Unlock, error)
}

func BookingKey(id string) string   { return "booking:" + id }
func PaymentsKey(id string) string  { return "booking-payments:" + id }
func DriverKey(id string) string    { return "driver:" + id }
func AmbulanceKey(id string) string { return "ambulance:" + id }
func RatingKey(id string) string    { return "booking-rating:" + id }

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type acquireFunc func(ctx context.Context, key string) (func(), error)

// lockAll takes keys one by one and rolls back on the first failure.
func lockAll(ctx context.Context, keys []string, acquire acquireFunc) (Unlock, error) {
	keys = normalize(keys)
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range keys {
		rel, err := acquire(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, rel)
	}
	done := false
	return func() {
		if done {
			return
		}
		done = true
		releaseAll()
	}, nil
}
