/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package orchestrator

import "go.opentelemetry.io/otel"

// tracer emits one span per step transaction and one child span per
// provider call. It is the global tracer provider's tracer: a caller
// that never configures an SDK exporter gets the no-op implementation,
// the same "works with nothing wired, exports once something is"
// default every other ambient seam in this module follows.
var tracer = otel.Tracer("github.com/jordigilh/orchestrator-core/pkg/orchestrator")
