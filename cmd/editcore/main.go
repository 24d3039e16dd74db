// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command editcore applies multi-file edit operations transactionally.
//
// Operations are read as JSON/YAML records, the FILE:/ACTION: text
// protocol, or a unified diff. Either every operation lands or the
// workspace is restored to its prior state.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AleutianAI/editcore/services/editcore/transaction"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps command errors to process exit codes.
//
//	1 - generic failure
//	2 - commit failed and was rolled back
//	3 - commit failed and rollback was incomplete
func exitCode(err error) int {
	var ce *transaction.CommitError
	if errors.As(err, &ce) {
		if ce.RollbackComplete() {
			return 2
		}
		return 3
	}
	return 1
}
