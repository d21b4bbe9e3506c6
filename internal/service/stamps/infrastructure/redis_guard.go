package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"loyaltyhub/internal/pkg/redis"
)

const requestGuardScript = "stamp_request_guard"

// KEYS[1]: stamp:req:{org}:{customer}:{promotion}
// ARGV[1]: 占位值  ARGV[2]: 过期毫秒
// 返回 1 表示拿到，0 表示冷却中
var requestGuardLua = `
if redis.call('set', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2]) then
    return 1
end
return 0
`

// RedisRequestGuard 用 SET NX PX 挡住冷却期内的并发重复申请
type RedisRequestGuard struct {
	client *redis.Client
}

func NewRedisRequestGuard(ctx context.Context, client *redis.Client) (*RedisRequestGuard, error) {
	if err := client.LoadScriptFromContent(ctx, requestGuardScript, requestGuardLua); err != nil {
		return nil, err
	}
	return &RedisRequestGuard{client: client}, nil
}

func guardKey(orgID, customerID, promotionID uint) string {
	return fmt.Sprintf("stamp:req:{%d}:%d:%d", orgID, customerID, promotionID)
}

func (g *RedisRequestGuard) Acquire(ctx context.Context, orgID, customerID, promotionID uint, ttl time.Duration) (bool, error) {
	res, err := g.client.RunScript(ctx, requestGuardScript, []string{guardKey(orgID, customerID, promotionID)}, 1, ttl.Milliseconds())
	if err != nil {
		return false, errors.Wrap(err, "run stamp request guard")
	}
	code, ok := res.(int64)
	if !ok {
		return false, errors.Errorf("unexpected guard result type %T", res)
	}
	return code == 1, nil
}

func (g *RedisRequestGuard) Release(ctx context.Context, orgID, customerID, promotionID uint) error {
	return errors.Wrap(g.client.GetClient().Del(ctx, guardKey(orgID, customerID, promotionID)).Err(), "release stamp request guard")
}
