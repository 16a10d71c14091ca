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

// Package provider reads the raw configuration document from a file or a
// key-value store and reports when it changes.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Type names a configuration source.
type Type string

const (
	TypeFile      Type = "file"
	TypeConsul    Type = "consul"
	TypeEtcd      Type = "etcd"
	TypeZookeeper Type = "zookeeper"
)

var typeAliases = map[string]Type{
	"":          TypeFile,
	"file":      TypeFile,
	"consul":    TypeConsul,
	"etcd":      TypeEtcd,
	"zookeeper": TypeZookeeper,
	"zk":        TypeZookeeper,
}

// ParseType resolves a source name. An empty name is a file.
func ParseType(s string) (Type, error) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
	return t, nil
}

// Provider is a configuration source. Implementations are safe for
// concurrent use.
type Provider interface {
	Type() Type

	// Load returns the current document bytes.
	Load(ctx context.Context) ([]byte, error)

	// Watch signals on the returned channel each time the document changes,
	// until ctx is done. A nil channel means the source cannot be watched.
	Watch(ctx context.Context) (<-chan struct{}, error)

	Close() error
}

const defaultDialTimeout = 10 * time.Second

// ProviderConfig selects and configures a source.
type ProviderConfig struct {
	Type Type

	// Path is a file path, or the key holding the document in a
	// key-value store.
	Path string

	// Endpoints of the consul agent, etcd cluster or zookeeper ensemble.
	Endpoints []string

	// Token is the consul ACL token.
	Token string

	// Username and Password authenticate against etcd.
	Username string
	Password string

	// DialTimeout bounds the initial connection. Default: 10s.
	DialTimeout time.Duration
}

// New builds the Provider named by opts.Type.
func New(opts ProviderConfig) (Provider, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}

	switch opts.Type {
	case TypeFile, "":
		return NewFileProvider(opts.Path)
	case TypeConsul:
		return NewConsulProvider(opts)
	case TypeEtcd:
		return NewEtcdProvider(opts)
	case TypeZookeeper:
		return NewZookeeperProvider(opts)
	default:
		return nil, fmt.Errorf("unknown provider type: %s", opts.Type)
	}
}

func dialTimeout(opts ProviderConfig) time.Duration {
	if opts.DialTimeout > 0 {
		return opts.DialTimeout
	}
	return defaultDialTimeout
}
