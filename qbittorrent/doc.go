// Package qbittorrent provides a client for interacting with the qBittorrent Web API.
//
// This package wraps the autobrr/go-qbittorrent library to provide the
// capability surface the extraction engine needs: listing completed
// torrents, querying per-torrent completion, pausing a torrent before its
// archives are unpacked and resuming it afterwards.
//
// # Features
//
//   - Connection management with authentication and login retries
//   - Completion detection from the remote client's own progress signal
//   - Pause/resume by torrent hash
//   - File path matching for torrent identification
//   - Context-aware operations for graceful cancellation
//
// # Usage
//
//	client, err := qbittorrent.NewClient(url, username, password, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	completed, err := client.ListCompleted(ctx)
//	for _, t := range completed {
//	    // Pause, unpack, resume.
//	}
package qbittorrent
