// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package mep classifies the Message Exchange Patterns of a P-Mode.

A P-Mode names an MEP (one-way or two-way) and a binding. Together they
fix how the user message of every leg travels:

	One-Way/Push          leg 1 pushed
	One-Way/Pull          leg 1 pulled
	Two-Way/Sync          leg 1 pushed, leg 2 on the back channel
	Two-Way/Push-and-Push leg 1 pushed, leg 2 pushed
	Two-Way/Push-and-Pull leg 1 pushed, leg 2 pulled
	Two-Way/Pull-and-Push leg 1 pulled, leg 2 pushed

A PullRequest is secured with the settings of the leg it pulls, so a
client pulling under a P-Mode imports that leg:

	pattern, err := mep.PatternOf(pm)
	if err != nil {
	    return err
	}
	if n := pattern.PulledLeg(); n > 0 {
	    err = config.ImportFromPMode(pm, pm.Leg(n))
	}

# References

  - OASIS ebMS 3.0 MEP: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/core/os/
  - OASIS AS4 MEP: https://docs.oasis-open.org/ebxml-msg/ebms/v3.0/profiles/AS4-profile/v1.0/
*/
package mep
