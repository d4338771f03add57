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

// Package blocksy3 is an embedded, multi-tree, append-only key-value
// storage engine. A Db groups a fixed set of independently ordered
// trees that share one commit clock: a WriteBatch may touch any
// subset of them and commits atomically across all of them, or not at
// all. Reads are snapshot-isolated through a ReadView captured at a
// point in the commit sequence.
package blocksy3
