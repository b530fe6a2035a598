// Package redis provides a Redis-based implementation of walletsync.Storage.
//
// It lets several processes share one session record the way browser tabs of
// one origin share localStorage: every process creates its own Storage handle
// against the same Redis, and writes made through one handle are announced to
// the others over Redis pub/sub.
//
// # Basic Usage
//
//	import (
//	    "github.com/redis/go-redis/v9"
//	    "github.com/tranvictor/walletsync"
//	    redisstore "github.com/tranvictor/walletsync/persistence/redis"
//	)
//
//	client := redis.NewClient(&redis.Options{
//	    Addr: "localhost:6379",
//	})
//
//	storage := redisstore.NewStorage(client)
//	c, err := walletsync.NewClient(wallet, storage)
//
// # Origins
//
// Handles sharing a key prefix form one origin. Use prefixes to keep
// applications or environments apart on the same Redis instance:
//
//	prod := redisstore.NewStorage(client, redisstore.WithKeyPrefix("prod"))
//	staging := redisstore.NewStorage(client, redisstore.WithKeyPrefix("staging"))
//
// # Redis Key Structure
//
//   - walletsync:record:{key} - raw value written by Set
//   - walletsync:events - pub/sub channel carrying {key, writer, value, deleted}
//
// With a prefix both become {prefix}:walletsync:...
//
// # Consistency
//
// Writes are last-writer-wins. Set and Delete publish their notification in
// the same MULTI/EXEC as the write, so a subscriber re-reading on
// notification always sees at least that write. Nothing stronger is offered.
//
// # Supported Redis Configurations
//
// Pass any redis.UniversalClient: standalone, Sentinel or Cluster.
package redis
