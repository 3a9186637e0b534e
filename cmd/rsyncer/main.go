// Command rsyncer runs rsync as a supervised subprocess with progress
// tracking, run history, metrics and webhook notifications.
package main

import "github.com/jvs-project/rsyncer/internal/cli"

func main() {
	cli.Execute()
}
