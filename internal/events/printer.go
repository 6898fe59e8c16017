// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"fmt"
	"io"
	"strings"
)

// PrinterFunc returns a handler that streams fragments to w as they arrive
// and ends the reply with a newline. With a non-empty name the reply is
// prefixed by "name: " on its first fragment.
func PrinterFunc(name string, w io.Writer) HandlerFunc {
	last := ""
	return func(e *Event) error {
		switch e.Type {
		case TypeStarted:
			last = ""
			if name != "" {
				if _, err := fmt.Fprintf(w, "%s: ", name); err != nil {
					return err
				}
			}
		case TypeToken:
			last = e.Fragment
			if _, err := io.WriteString(w, e.Fragment); err != nil {
				return err
			}
		case TypeEnded:
			if e.Tokens > 0 && !strings.HasSuffix(last, "\n") {
				if _, err := io.WriteString(w, "\n"); err != nil {
					return err
				}
			}
		}
		return nil
	}
}
