// Package process runs short-lived operator commands.
//
// Device on/off commands configured with the exec transport are shell
// snippets (wake-on-LAN helpers, ssh shutdowns, PDU CLIs). The Runner starts
// each one in its own process group, enforces a timeout, and terminates the
// whole group with SIGTERM then SIGKILL when it overruns.
//
// Example usage:
//
//	r := process.NewRunner()
//	res, err := r.Run(ctx, process.ShellConfig("Projector on", "/bin/sh", "pjlink-cli on 10.0.0.5"))
//	if err != nil {
//	    log.Printf("exit %d: %v (%s)", res.ExitCode, err, res.Output)
//	}
package process
