// Copyright 2024 The Tessera authors. All Rights Reserved.
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

package blocksy3

import "time"

// DefaultSyncCoalesceWindow is the window within which concurrent
// Sync calls on a file-backed Db are coalesced into a single fsync,
// if no WithSyncCoalesceWindow option is given.
const DefaultSyncCoalesceWindow = 5 * time.Millisecond

// commitsTreeName is reserved for the master commit log and may not
// be used as a tree name.
const commitsTreeName = "commits"

// Config holds the options accumulated by Open's variadic Option
// arguments.
type Config struct {
	dir                string
	haveDir            bool
	trees              []string
	syncCoalesceWindow time.Duration
}

// Option configures a Db at Open time.
type Option func(*Config)

func newConfig(opts []Option) Config {
	cfg := Config{syncCoalesceWindow: DefaultSyncCoalesceWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithDir selects the file-backed log backend rooted at dir, creating
// dir (and any missing parents) if it does not already exist. Without
// this option, Open uses the in-memory backend: nothing written
// survives process exit.
func WithDir(dir string) Option {
	return func(c *Config) {
		c.dir = dir
		c.haveDir = true
	}
}

// WithTrees names the trees the Db is to contain, in the order
// operations iterate them. It is mandatory: Open returns
// ErrInvalidConfig without at least one tree name.
func WithTrees(names ...string) Option {
	return func(c *Config) {
		c.trees = append(c.trees[:0:0], names...)
	}
}

// WithSyncCoalesceWindow configures how long the file-backed log
// backend waits to batch concurrent Sync calls into one fsync. It has
// no effect on an in-memory Db.
func WithSyncCoalesceWindow(d time.Duration) Option {
	return func(c *Config) {
		c.syncCoalesceWindow = d
	}
}

func (c Config) validate() error {
	if len(c.trees) == 0 {
		return ErrInvalidConfig
	}
	seen := make(map[string]bool, len(c.trees))
	for _, name := range c.trees {
		if name == commitsTreeName {
			return ErrInvalidConfig
		}
		if seen[name] {
			return ErrInvalidConfig
		}
		seen[name] = true
	}
	return nil
}
