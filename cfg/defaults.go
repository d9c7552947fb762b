// Copyright 2024 Google Inc. All Rights Reserved.
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

package cfg

import "time"

// Default returns the configuration used before any flags or config
// file have been applied: a known-good baseline cobra.OnInitialize
// falls back to.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			ProbeCacheFor: time.Second,
		},
		Log: LogConfig{
			MaxSizeMB:  512,
			MaxBackups: 10,
			MaxAgeDays: 28,
		},
		Cache: CacheConfig{
			EntryTimeout: time.Second,
			AttrTimeout:  time.Second,
			NegativeTTL:  0,
		},
	}
}
