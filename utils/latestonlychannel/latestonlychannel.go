/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package latestonlychannel

import "context"

// Wrap returns a channel which only ever holds the most recent value received
// from inputCh.  Values which are replaced before the reader gets to them are
// dropped, so a slow reader never blocks the writer for long and never works
// through a backlog of stale values.  The output is closed once the input is
// closed or the context is done.
func Wrap[T any](ctx context.Context, inputCh <-chan T) <-chan T {
	outputCh := make(chan T)

	go func() {
		defer close(outputCh)

		for {
			var latest T
			select {
			case value, ok := <-inputCh:
				if !ok {
					return
				}
				latest = value
			case <-ctx.Done():
				return
			}

			// keep replacing the pending value until the reader takes it, this
			// guarantees the output never carries more values than the input.
			for sent := false; !sent; {
				select {
				case outputCh <- latest:
					sent = true
				case value, ok := <-inputCh:
					if !ok {
						return
					}
					latest = value
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return outputCh
}
