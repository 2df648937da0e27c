// main.go — StreamHaven staging service entrypoint.
// Starts the staging HTTP service on port 8090 (env: PORT).
package main

import (
	"fmt"
	"os"

	"github.com/adrian-purnama/streamhaven-be/services/staging"
)

func main() {
	if err := staging.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "streamhaven:", err)
		os.Exit(1)
	}
}
