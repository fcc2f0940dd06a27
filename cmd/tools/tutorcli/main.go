// Command tutorcli is an interactive terminal client for the tutoring
// session layer. It talks to the providers directly; no server is needed.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
