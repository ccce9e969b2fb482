package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pnptcn/nuner/pkg/common"
)

// encodeScalar stores a flattened property as JSON so that numbers and
// booleans keep their type when read back.
func encodeScalar(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeScalar(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return raw
	}
	if n, ok := v.(json.Number); ok {
		return common.Number(n).Flatten()
	}
	return v
}

// writeProps sets the properties of the entity at base one key at a time.
// Scalars overwrite. List values are appended to the property's sorted set;
// members already present keep their position.
func (s *Session) writeProps(ctx context.Context, base string, values map[string]common.Value) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		v := values[k]
		if v.Kind() == common.KindList {
			if err := s.appendList(ctx, base, k, v.Items()); err != nil {
				return err
			}
			continue
		}
		_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, base, k, encodeScalar(v.Flatten()))
			p.SRem(ctx, lists(base), k)
			p.Del(ctx, listKey(base, k))
			return nil
		})
		if err != nil {
			return classify(err)
		}
	}
	return nil
}

func (s *Session) appendList(ctx context.Context, base, prop string, items []common.Value) error {
	key := listKey(base, prop)
	// New items go after the highest score; duplicates within earlier
	// appends leave gaps, so the cardinality is not a safe base.
	last, err := s.rdb.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return classify(err)
	}
	n := 0.0
	if len(last) > 0 {
		n = last[0].Score + 1
	}
	_, err = s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.HDel(ctx, base, prop)
		p.SAdd(ctx, lists(base), prop)
		for i, item := range items {
			p.ZAddNX(ctx, key, goredis.Z{Score: n + float64(i), Member: item.Canonical()})
		}
		return nil
	})
	return classify(err)
}

// readProps loads the entity at base. It reports false when the entity has
// no properties at all.
func (s *Session) readProps(ctx context.Context, base string) (common.Properties, bool, error) {
	var (
		hash *goredis.MapStringStringCmd
		mv   *goredis.StringSliceCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		hash = p.HGetAll(ctx, base)
		mv = p.SMembers(ctx, lists(base))
		return nil
	})
	if err != nil {
		return nil, false, classify(err)
	}

	props := make(common.Properties, len(hash.Val())+len(mv.Val()))
	for k, raw := range hash.Val() {
		props[k] = decodeScalar(raw)
	}
	for _, prop := range mv.Val() {
		members, err := s.rdb.ZRange(ctx, listKey(base, prop), 0, -1).Result()
		if err != nil {
			return nil, false, classify(err)
		}
		props[prop] = "[" + strings.Join(members, ",") + "]"
	}
	return props, len(props) > 0, nil
}
