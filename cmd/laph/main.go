// Command laph asks a language model for a program, runs it in a sandbox,
// and feeds failures back until the program exits cleanly.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, errorStyle.Sprint("Error: ")+err.Error())
		os.Exit(1)
	}
}

// exitError ends the process with a specific status and no message; the
// command has already said what it had to say.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}
