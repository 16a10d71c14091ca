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

// Package sprout is the usage-governed shopping assistant of a plant
// nursery web shop.
//
// Every call to a metered provider (Gemini text generation, Brave web
// search) is admitted against daily and monthly ceilings before it is made
// and charged afterwards with the units the provider reports. Chat sessions
// expire after an idle timeout, and an admin report shows consumption per
// window.
//
// # Quick Start
//
//	export GEMINI_API_KEY=...
//	go install github.com/kadirpekel/sprout/cmd/sprout@latest
//	sprout serve --port 8080
//
// A minimal configuration:
//
//	quotas:
//	  time_zone: Europe/Amsterdam
//	  text_generation:
//	    daily: 200000
//	    monthly: 4000000
//	  web_search:
//	    daily: 100
//	    monthly: 2000
//	ledger:
//	  backend: sql
//	  database: main
//	databases:
//	  main:
//	    driver: sqlite
//	    database: ./.sprout/sprout.db
//
// # Packages
//
//   - pkg/window: calendar window IDs in the configured zone
//   - pkg/ledger: counter stores (memory, file, sql, etcd)
//   - pkg/governor: admission and commit against the ceilings
//   - pkg/session: chat sessions, validation and metered provider calls
//   - pkg/report: the admin usage snapshot
//   - pkg/server: the HTTP API
package sprout
