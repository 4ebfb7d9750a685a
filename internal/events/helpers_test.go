package events

import "bagurumba/internal/redisclient"

func redisConfigForTest(addr string) redisclient.Config {
	return redisclient.Config{Addr: addr}
}
