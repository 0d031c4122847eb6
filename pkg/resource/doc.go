// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package resource tracks the temporary files and open handles created while
one AS4 exchange is built or processed, and releases them in bulk when the
exchange completes.

A Lifecycle is created per outbound send or per inbound exchange:

	lc := resource.NewLifecycle(resource.WithLogger(logger))
	defer lc.Release()

	path, err := lc.Materialize(attachmentReader)

Registration and the release snapshot are serialised by a single mutex so a
reader goroutine materialising an attachment can race a finaliser calling
Release without losing or double-deleting a file. Release never fails:
deletion and close errors are logged and skipped.
*/
package resource
