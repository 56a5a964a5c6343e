// Command realtimectl is a small CLI wrapping the realtime client, useful
// for exercising a server's broadcast/presence/postgres_changes channels
// from a terminal.
package main

import "github.com/markb/realtime-go/cmd"

func main() {
	cmd.Execute()
}
