/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package messenger

import (
	"fmt"

	"github.com/scivis-labs/raynet/pkg/transport"
	"github.com/scivis-labs/raynet/pkg/types"
)

// UnregisteredTagError reports a send or receive on a tag that was never
// registered. It is a configuration error, fatal to the operation that
// triggered it.
type UnregisteredTagError struct {
	Tag types.Tag
}

func (e *UnregisteredTagError) Error() string {
	return fmt.Sprintf("messenger: tag %d is not registered", e.Tag)
}

// MissingBufferError reports a completion for a receive request that is not
// present in the posted-receive pool. This violates a protocol invariant and
// is fatal to the operation that triggered it.
type MissingBufferError struct {
	Req transport.Request
	Tag types.Tag
}

func (e *MissingBufferError) Error() string {
	return fmt.Sprintf("messenger: no receive buffer for completed request %d on tag %d", e.Req, e.Tag)
}

// RuntPacketError reports a completed receive buffer too short to hold a
// packet header.
type RuntPacketError struct {
	Size int
}

func (e *RuntPacketError) Error() string {
	return fmt.Sprintf("messenger: received packet of %d bytes, shorter than a header", e.Size)
}
