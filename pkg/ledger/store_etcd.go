// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// maxCASAttempts bounds the compare-and-swap loop under contention.
const maxCASAttempts = 64

// EtcdStore keeps counters as decimal values under a key prefix in etcd.
// Increments are compare-and-swap transactions on the key's mod revision,
// so only writers of the same key ever retry.
type EtcdStore struct {
	client *clientv3.Client
	kv     clientv3.KV
	prefix string
	owned  bool
}

// EtcdOptions configures NewEtcdStore.
type EtcdOptions struct {
	Endpoints   []string
	Prefix      string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// NewEtcdStore connects to etcd and returns a store rooted at opts.Prefix.
func NewEtcdStore(opts EtcdOptions) (*EtcdStore, error) {
	if len(opts.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   opts.Endpoints,
		DialTimeout: opts.DialTimeout,
		Username:    opts.Username,
		Password:    opts.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	s := NewEtcdStoreFromClient(client, opts.Prefix)
	s.owned = true
	return s, nil
}

// NewEtcdStoreFromClient wraps an existing client. The caller keeps
// ownership of the client; Close does not close it.
func NewEtcdStoreFromClient(client *clientv3.Client, prefix string) *EtcdStore {
	if prefix == "" {
		prefix = "/sprout/usage"
	}
	return &EtcdStore{
		client: client,
		kv:     client.KV,
		prefix: prefix,
	}
}

func (s *EtcdStore) keyPath(key Key) string {
	return path.Join(s.prefix, string(key.Provider), string(key.Kind), string(key.Window))
}

// IncrementAndGet adds delta with an optimistic transaction loop.
func (s *EtcdStore) IncrementAndGet(ctx context.Context, key Key, delta int64) (int64, error) {
	totals, err := s.IncrementAll(ctx, []Key{key}, delta)
	if err != nil {
		return 0, err
	}
	return totals[0], nil
}

// IncrementAll reads every key, then writes all of them in one transaction
// guarded by a revision compare per key. Any concurrent write to one of the
// keys fails the whole transaction and the loop retries.
func (s *EtcdStore) IncrementAll(ctx context.Context, keys []Key, delta int64) ([]int64, error) {
	if delta < 0 {
		return nil, ErrNegativeDelta
	}
	paths := make([]string, len(keys))
	for i, key := range keys {
		paths[i] = s.keyPath(key)
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		conds := make([]clientv3.Cmp, 0, len(paths))
		puts := make([]clientv3.Op, 0, len(paths))
		totals := make([]int64, len(paths))

		for i, k := range paths {
			current, cond, err := s.read(ctx, k)
			if err != nil {
				return nil, err
			}
			totals[i] = current + delta
			conds = append(conds, cond)
			puts = append(puts, clientv3.OpPut(k, strconv.FormatInt(totals[i], 10)))
		}

		txn, err := s.kv.Txn(ctx).If(conds...).Then(puts...).Commit()
		if err != nil {
			return nil, fmt.Errorf("%w: txn %v: %w", ErrStoreUnavailable, paths, err)
		}
		if txn.Succeeded {
			return totals, nil
		}
	}

	return nil, fmt.Errorf("%w: %v: gave up after %d contended attempts", ErrStoreUnavailable, paths, maxCASAttempts)
}

// read returns the counter at k and the compare that holds while nobody
// else has written it.
func (s *EtcdStore) read(ctx context.Context, k string) (int64, clientv3.Cmp, error) {
	resp, err := s.kv.Get(ctx, k)
	if err != nil {
		return 0, clientv3.Cmp{}, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, k, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, clientv3.Compare(clientv3.CreateRevision(k), "=", 0), nil
	}
	current, err := strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return 0, clientv3.Cmp{}, fmt.Errorf("%w: corrupt counter %s: %w", ErrStoreUnavailable, k, err)
	}
	return current, clientv3.Compare(clientv3.ModRevision(k), "=", resp.Kvs[0].ModRevision), nil
}

// Peek reads the counter; a missing key is zero.
func (s *EtcdStore) Peek(ctx context.Context, key Key) (int64, error) {
	k := s.keyPath(key)
	resp, err := s.kv.Get(ctx, k)
	if err != nil {
		return 0, fmt.Errorf("%w: get %s: %w", ErrStoreUnavailable, k, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(resp.Kvs[0].Value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt counter %s: %w", ErrStoreUnavailable, k, err)
	}
	return v, nil
}

// Close closes the client if the store created it.
func (s *EtcdStore) Close() error {
	if s.owned && s.client != nil {
		return s.client.Close()
	}
	return nil
}
