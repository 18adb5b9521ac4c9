/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

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
package cmd

import (
	"fmt"
	"os"

	"github.com/valpere/epubtran/internal/backend"
)

// backendOptions carries the per-backend connection settings collected
// from flags.
type backendOptions struct {
	marianURL     string
	ollamaURL     string
	ollamaModel   string
	credentials   string
	mymemoryEmail string
	sourceLang    string
	targetLang    string
}

// buildBackends constructs the candidate chain in quality order from the
// requested backend names. "marian" expands to the built-in OPUS-MT model
// fallback chain. When preferredModel names a model absent from the
// chain, a backend for it is prepended so selection tries it first.
func buildBackends(names []string, preferredModel string, opts backendOptions) ([]backend.Backend, error) {
	var list []backend.Backend

	for _, name := range names {
		switch name {
		case "marian":
			for _, m := range backend.DefaultMarianModels {
				list = append(list, backend.NewMarianBackend(opts.marianURL, m.Name, m.NeedsTargetHint))
			}
		case "ollama":
			list = append(list, backend.NewOllamaBackend(opts.ollamaURL, opts.ollamaModel, opts.sourceLang, opts.targetLang))
		case "google":
			list = append(list, backend.NewGoogleBackend(opts.credentials, opts.sourceLang, opts.targetLang))
		case "mymemory":
			list = append(list, backend.NewMyMemoryBackend(opts.mymemoryEmail, opts.sourceLang, opts.targetLang))
		default:
			fmt.Fprintf(os.Stderr, "Unknown backend: %s, skipping\n", name)
		}
	}

	if preferredModel != "" && !hasBackend(list, preferredModel) {
		preferred := backend.NewMarianBackend(opts.marianURL, preferredModel, false)
		list = append([]backend.Backend{preferred}, list...)
	}

	if len(list) == 0 {
		return nil, fmt.Errorf("no valid backends configured")
	}
	return list, nil
}

func hasBackend(list []backend.Backend, name string) bool {
	for _, b := range list {
		if b.Name() == name {
			return true
		}
	}
	return false
}
