// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lock

import "os"

// fileLocker abstracts the OS advisory lock primitive.
//
// # Description
//
// tryLock must not block: it returns nil when the exclusive lock was
// taken and errWouldBlock when another descriptor holds it. Any other
// error is a real failure.
type fileLocker interface {
	tryLock(f *os.File) error
	unlock(f *os.File) error
}

// newPlatformLocker returns the locker for the current OS. Implemented in
// locker_unix.go and locker_windows.go.
var newPlatformLocker = func() fileLocker {
	return platformLocker{}
}
