package logging

import (
	"io"
	"os"
)

func newOutput(name string) io.Writer {
	switch name {
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	default:
		return os.Stdout
	}
}
