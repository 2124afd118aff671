// Package sshshell dials SSH transports with password authentication and
// allocates PTY-backed interactive shells on them.
//
// # Connection Lifecycle
//
//  1. [Connect] resolves the destination, dials TCP, and completes the SSH
//     handshake, all bounded by [Options.ReadyTimeout].
//
//  2. [Client.OpenShell] requests a PTY of the given dimensions and starts
//     the remote shell. The returned [Shell] exposes Read, Write, Resize,
//     and Close.
//
//  3. The transport ends either deliberately via [Client.Close] or on its
//     own. Either way the background goroutines exit.
//
// # Dead Transport Detection
//
// Each [Client] runs a keepalive loop that sends keepalive@openssh.com
// requests every [Options.KeepaliveInterval]. After [Options.KeepaliveMax]
// consecutive misses, or as soon as the transport itself reports closure,
// the failure is delivered on [Client.Dead] exactly once. A deliberate Close
// never reports on Dead, so owners can tell teardown from loss.
//
// # Security
//
// Host keys are not verified; the proxy connects to destinations its caller
// names explicitly. Passwords are used for the handshake and never logged.
//
// # Usage
//
//	client, err := sshshell.Connect(ctx, sshshell.Options{
//		Host:     "10.0.0.5",
//		User:     "ops",
//		Password: secret,
//	}, logger)
//	if err != nil { ... }
//	defer client.Close()
//
//	shell, err := client.OpenShell(120, 30, sshshell.DefaultTerm)
//	if err != nil { ... }
//	defer shell.Close()
//
//	buf := make([]byte, 32*1024)
//	for {
//		n, err := shell.Read(buf)
//		if n > 0 {
//			deliver(buf[:n])
//		}
//		if err != nil {
//			break
//		}
//	}
package sshshell
