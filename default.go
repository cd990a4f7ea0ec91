// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xmppstream

// defaultArena is created with the process and lives until it exits. The parser itself never
// reaches for it: New binds it into a Stream when Config.Context is nil, and from then on the
// Stream only uses the reference it was given.
var defaultArena = NewContext()

// DefaultContext returns the process-wide default Arena. It carries the same concurrency rules
// as any other Arena: every Stream created without its own Context shares it, so all of them
// must be driven from one goroutine.
func DefaultContext() *Arena {
	return defaultArena
}

// ReleaseGlobalTemporaries releases the temporaries of the default Arena. Call it at a point
// where no Push is in progress, typically once per event-loop tick.
func ReleaseGlobalTemporaries() {
	defaultArena.ReleaseTemporaries()
}
