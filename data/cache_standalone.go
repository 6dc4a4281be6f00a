package data

import "github.com/mediocregopher/radix/v3"

type cacheStandalone struct {
	client *radix.Pool
}

func NewCacheStandaloneClient(address string, password string) (CacheClient, error) {
	connFunc := func(network string, addr string) (radix.Conn, error) {
		return radix.Dial(
			network,
			addr,
			radix.DialAuthPass(password),
		)
	}
	client, err := radix.NewPool("tcp", address, 10, radix.PoolConnFunc(connFunc))
	if err != nil {
		return nil, err
	}

	return &cacheStandalone{
		client: client,
	}, nil
}

func (r cacheStandalone) Del(keys ...string) error {
	return r.client.Do(radix.Cmd(nil, "DEL", keys...))
}

func (r cacheStandalone) HSet(key string, field string, value string) error {
	return r.client.Do(radix.Cmd(nil, "HSET", key, field, value))
}

func (r cacheStandalone) HGet(key string, field string) (*string, error) {
	var result string
	value := radix.MaybeNil{
		Rcv: &result,
	}
	if err := r.client.Do(radix.Cmd(&value, "HGET", key, field)); err != nil {
		return nil, err
	}
	if value.Nil {
		return nil, nil
	}
	return &result, nil
}

func (r cacheStandalone) HGetAll(key string) (map[string]string, error) {
	var result map[string]string
	value := radix.MaybeNil{
		Rcv: &result,
	}
	if err := r.client.Do(radix.Cmd(&value, "HGETALL", key)); err != nil {
		return nil, err
	}
	if value.Nil {
		return nil, nil
	}
	return result, nil
}

var _ CacheClient = &cacheStandalone{}
