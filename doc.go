// Package flick implements a dual-mode remote file-transfer engine over SSH.
//
// This package provides:
//   - Connection establishment with an ordered authentication chain
//     (password, explicit key, SSH agent, default key probing)
//   - A library transport speaking SFTP via an embedded SSH implementation
//   - A native transport invoking the host's ssh/scp binaries as a fallback
//     when the library transport cannot authenticate or negotiate
//   - Remote directory listing with partial-failure tolerance
//   - A transfer queue with bounded concurrency, progress reporting and
//     cooperative cancellation
//
// # Basic Usage
//
// Connect to a server and list a directory:
//
//	profile := flick.ServerProfile{
//		Host:    "example.com",
//		Port:    22,
//		User:    "deploy",
//		KeyPath: "~/.ssh/id_ed25519",
//	}
//
//	conn, err := flick.Connect(profile, flick.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close()
//
//	entries, warn, err := conn.List(ctx, "/var/www")
//
// # Transfer Queue
//
// Transfers run through a queue that owns all task state:
//
//	queue := flick.NewTransferQueue(1, nil)
//	defer queue.Close()
//
//	id, err := queue.Enqueue(conn, flick.Upload, "/local/site.tar", "/tmp/site.tar")
//	events, _ := queue.Subscribe(id)
//	for ev := range events {
//		fmt.Printf("%d/%d %s\n", ev.BytesDone, ev.BytesTotal, ev.Status)
//	}
//
// # Transport Modes
//
// A Connection is bound to exactly one transport mode for its lifetime.
// Library mode multiplexes SFTP operations over one SSH session; native
// mode spawns a subprocess per operation and therefore serializes. Both
// modes honor the same path, overwrite and progress semantics behind the
// FileTransfer interface.
package flick
