/*
Copyright (C) 2026 Skaldworks

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package device

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Playback control helpers. Control-path commands are fire-and-forget to
// keep latency off the on-air path; query commands go through SendCommand.

// Play starts playback of a file reference on the given output slot.
func (c *Client) Play(slot int, fileRef string) error {
	return c.SendFireAndForget(fmt.Sprintf("PLAY %d %s", slot, fileRef))
}

// Stop halts whatever is airing on the output slot.
func (c *Client) Stop(slot int) error {
	return c.SendFireAndForget(fmt.Sprintf("STOP %d", slot))
}

// Pause freezes playback on the output slot.
func (c *Client) Pause(slot int) error {
	return c.SendFireAndForget(fmt.Sprintf("PAUSE %d", slot))
}

// Resume continues paused playback on the output slot.
func (c *Client) Resume(slot int) error {
	return c.SendFireAndForget(fmt.Sprintf("RESUME %d", slot))
}

// ListMedia queries the device media library and returns one entry per line
// of the response payload.
func (c *Client) ListMedia(ctx context.Context, timeout time.Duration) ([]string, error) {
	resp, err := c.SendCommand(ctx, "LIST", timeout)
	if err != nil {
		return nil, err
	}
	if resp.AssumedSuccess || resp.Payload == "" {
		return nil, nil
	}

	var entries []string
	for _, entry := range strings.Split(resp.Payload, "|") {
		if entry = strings.TrimSpace(entry); entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
