package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Values are zero-padded unix nanoseconds so that string comparison in Lua
// orders them correctly without going through floats.
const width = 20

var advanceScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if (not cur) or ARGV[1] > cur then
	redis.call('SET', KEYS[1], ARGV[1])
	return ARGV[1]
end
return cur
`)

// Redis shares one cursor between every bot replica. Advance is a single
// compare-and-set script, so concurrent cycles cannot move it back.
type Redis struct {
	client *redis.Client
	key    string
}

func NewRedis(client *redis.Client, key string) *Redis {
	return &Redis{client: client, key: key}
}

func (r *Redis) Load(ctx context.Context) (time.Time, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("getting cursor %s: %w", r.key, err)
	}
	return decode(raw)
}

func (r *Redis) Advance(ctx context.Context, t time.Time) (time.Time, error) {
	raw, err := advanceScript.Run(ctx, r.client, []string{r.key}, encode(t)).Text()
	if err != nil {
		return time.Time{}, fmt.Errorf("advancing cursor %s: %w", r.key, err)
	}
	return decode(raw)
}

func encode(t time.Time) string {
	if t.IsZero() {
		return fmt.Sprintf("%0*d", width, 0)
	}
	return fmt.Sprintf("%0*d", width, t.UnixNano())
}

func decode(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing cursor %q: %w", raw, err)
	}
	if n == 0 {
		return time.Time{}, nil
	}
	return time.Unix(0, n).UTC(), nil
}
