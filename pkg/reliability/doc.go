// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package reliability records the send attempts made under AS4 reception
awareness.

A Tracker keeps one entry per message id. Every attempt of a send reuses the
same id, so the entry shows how many attempts were made and why they failed.

	tracker := reliability.NewTracker()
	tracker.Track(messageID, 3, 12*time.Second)
	tracker.MarkSending(messageID)
	tracker.RecordError(messageID, err) // back to submitted while retries remain
	tracker.MarkDelivered(messageID)

Retry parameters come from the P-Mode:

	receptionAwareness := &pmode.ReceptionAwareness{
	    Enabled: true,
	    Retry: &pmode.RetryConfig{
	        Enabled:       true,
	        MaxRetries:    3,
	        RetryInterval: 12 * time.Second,
	    },
	}

Finished entries can be dropped with Prune.

# References

  - OASIS AS4 Reception Awareness: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package reliability
