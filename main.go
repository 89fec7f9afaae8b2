// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🌍 go-groundsync - Offline Mutation Synchronization Engine")
	fmt.Println("==========================================================")
	fmt.Println()
	fmt.Println("go-groundsync keeps field survey data collected offline flowing to a central")
	fmt.Println("store: a durable SQLite mutation queue, two-phase (data + media) delivery,")
	fmt.Println("single-flight background workers, and crash recovery on startup.")
	fmt.Println()

	fmt.Println("📦 Packages:")
	fmt.Println()
	fmt.Println("1. 📱 groundsqlite - client-side engine")
	fmt.Println("   Mutation queue, sync status state machine, sync + media upload workers,")
	fmt.Println("   unique-job scheduler with startup reconciliation")
	fmt.Println()
	fmt.Println("2. 🗄️  groundsync - server-side receiving store")
	fmt.Println("   Postgres mutation log and media blob store with idempotent re-send")
	fmt.Println("   handling, HTTP handlers, JWT auth")
	fmt.Println()

	fmt.Println("🚀 Examples:")
	fmt.Println()
	fmt.Println("   examples/fieldapp    - offline collection round-trip demo")
	fmt.Println("   Run: cd examples/fieldapp && go run .")
	fmt.Println()
	fmt.Println("   examples/groundserver - standalone receiving server over Postgres")
	fmt.Println("   Run: go run ./examples/groundserver")
	fmt.Println()
}
