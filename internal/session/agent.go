// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// sshAgentGetter locates a running SSH agent. Tests may replace it.
var sshAgentGetter = getSSHAgent

// AgentSigners returns the signers offered by the local SSH agent, or
// nil when no agent is reachable.
func AgentSigners() []ssh.Signer {
	var a agent.Agent
	if a = sshAgentGetter(); a == nil {
		return nil
	}
	signers, err := a.Signers()
	if err != nil {
		return nil
	}
	return signers
}
