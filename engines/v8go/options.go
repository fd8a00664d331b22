//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"fmt"
	"time"

	jsbridge "github.com/buke/js-bridge"
)

// EngineOption holds specific configurations for the V8 engine.
type EngineOption struct {
	Timeout time.Duration // Terminates a Call that runs longer (0 = no limit)
}

// WithTimeout terminates script execution of a single Call after timeout.
func WithTimeout(timeout time.Duration) jsbridge.JsEngineOption {
	return func(engine jsbridge.JsEngine) error {
		e, ok := engine.(*Engine)
		if !ok {
			return fmt.Errorf("invalid engine type for WithTimeout")
		}
		if timeout < 0 {
			return fmt.Errorf("timeout cannot be negative")
		}
		e.Option.Timeout = timeout
		return nil
	}
}
