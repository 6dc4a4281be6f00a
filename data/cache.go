package data

// CacheClient is the thin surface this project needs from redis; keeping it
// as an interface leaves room for a clustered client without touching the
// consumers.
type CacheClient interface {
	Del(keys ...string) error
	HSet(key string, field string, value string) error
	HGet(key string, field string) (*string, error)
	HGetAll(key string) (map[string]string, error)
}
