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

package outcome

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"

	"github.com/jordigilh/orchestrator-core/internal/apperr"
)

// RulesetRegistry watches a directory of ruleset JSON files and upserts a
// new ruleset_version into the store whenever a file is added or changed.
// A malformed file is logged and skipped: the previous rulesets already
// registered in the store are never disturbed by a bad reload.
type RulesetRegistry struct {
	store   *Store
	dir     string
	log     logr.Logger
	watcher *fsnotify.Watcher
}

// NewRulesetRegistry loads every *.json file already present in dir into
// the store before watching begins.
func NewRulesetRegistry(ctx context.Context, store *Store, dir string, log logr.Logger) (*RulesetRegistry, error) {
	r := &RulesetRegistry{store: store, dir: dir, log: log}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, apperr.Wrap(err, apperr.KindConfiguration, "read ruleset directory").WithDetailsf("dir=%s", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		r.loadFile(ctx, filepath.Join(dir, entry.Name()))
	}
	return r, nil
}

// Watch starts an fsnotify watch on the registry's directory and reloads
// changed files as events arrive, until ctx is cancelled.
func (r *RulesetRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperr.Wrap(err, apperr.KindInfrastructure, "create ruleset file watcher")
	}
	r.watcher = watcher

	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(err, apperr.KindInfrastructure, "watch ruleset directory").WithDetailsf("dir=%s", r.dir)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				watcher.Close()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					r.loadFile(ctx, event.Name)
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Error(watchErr, "ruleset file watcher error", "dir", r.dir)
			}
		}
	}()
	return nil
}

// Close stops the underlying watcher, if running.
func (r *RulesetRegistry) Close() error {
	if r.watcher == nil {
		return nil
	}
	return r.watcher.Close()
}

func (r *RulesetRegistry) loadFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		r.log.Error(err, "failed to read ruleset file", "path", path)
		return
	}
	var ruleset OutcomeRuleset
	if err := json.Unmarshal(data, &ruleset); err != nil {
		r.log.Error(err, "failed to decode ruleset file, keeping existing rulesets", "path", path)
		return
	}
	if err := ruleset.Validate(); err != nil {
		r.log.Error(err, "ruleset file failed validation, keeping existing rulesets", "path", path)
		return
	}
	if err := r.store.UpsertRuleset(ctx, ruleset); err != nil {
		r.log.Error(err, "failed to register ruleset", "path", path, "ruleset_version", ruleset.RulesetVersion)
		return
	}
	r.log.Info("registered outcome ruleset", "path", path, "ruleset_version", ruleset.RulesetVersion)
}
